package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"dicom-router/internal/handlers"
	"dicom-router/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application. authMiddleware
// guards the admin routes; it and rateLimiter may be nil.
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler, rateLimiter *middleware.RateLimiter) {
	// Add logging middleware to all routes
	router.Use(middleware.LoggingMiddleware)

	// Health check (no auth required)
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// Protected routes - rate limited before authentication
	protected := router.NewRoute().Subrouter()
	if rateLimiter != nil {
		protected.Use(rateLimiter.Middleware)
	}
	if authMiddleware != nil {
		protected.Use(authMiddleware)
	}

	// Rule administration accepts every method; the engine answers 405 itself
	protected.HandleFunc("/dicom-router/rules", h.HandleRules)

	api := protected.PathPrefix("/dicom-router").Subrouter()
	api.HandleFunc("/studies/{id}/route", h.RouteStudy).Methods(http.MethodPost)
	api.HandleFunc("/destinations", h.ListDestinations).Methods(http.MethodGet)
	api.HandleFunc("/dispatches", h.ListDispatches).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)

	// Purge answers 405 with Allow: GET for other methods
	protected.HandleFunc("/purge-old-studies", h.PurgeOldStudies)
}
