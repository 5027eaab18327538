package app

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"dicom-router/internal/handlers"
	"dicom-router/internal/server"
)

// Handler builds the HTTP handler serving the admin, ingress and health routes
func (app *App) Handler() http.Handler {
	h := handlers.New(app.Engine, app.Orthanc, app.Audit, app.Purge, app.TriggerManager, app.Logger)

	h.AddHealthCheck("orthanc", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.Orthanc.Ping(ctx)
	})
	if app.RedisClient != nil {
		h.AddHealthCheck("redis", app.RedisClient.Health)
	}
	if app.Audit != nil {
		h.AddHealthCheck("audit", app.Audit.Health)
	}
	h.AddHealthCheck("triggers", app.TriggerManager.Health)

	var authMiddleware func(http.Handler) http.Handler
	if app.Auth != nil {
		authMiddleware = app.Auth.Middleware
	}

	router := mux.NewRouter()
	SetupRoutes(router, h, authMiddleware, app.RateLimiter)
	return router
}

// NewServer creates the HTTP server. A synchronous route request waits for
// every forward, so the write timeout follows the forward timeout.
func (app *App) NewServer(handler http.Handler) *server.Server {
	writeTimeout := app.Config.ForwardTimeout*time.Duration(app.Config.ForwardRetryAttempts) + 30*time.Second
	return server.New(handler, server.Config{
		Port:         strconv.Itoa(app.Config.Port),
		TLSCert:      app.Config.TLSCert,
		TLSKey:       app.Config.TLSKey,
		WriteTimeout: writeTimeout,
	}, app.Logger)
}
