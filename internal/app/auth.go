package app

import (
	"dicom-router/internal/common/logging"
	"dicom-router/internal/middleware"
)

// initializeAuth enables bearer token checks on the admin endpoints when a
// secret is configured
func (app *App) initializeAuth() error {
	if app.Config.AdminJWTSecret == "" {
		app.Logger.Warn("Admin authentication disabled (ADMIN_JWT_SECRET not set)")
		return nil
	}

	auth, err := middleware.NewJWTAuth(app.Config.AdminJWTSecret)
	if err != nil {
		return err
	}
	app.Auth = auth
	app.Logger.Info("Admin authentication: JWT")
	return nil
}

// initializeRateLimit bounds requests per client on the admin and ingress routes
func (app *App) initializeRateLimit() error {
	if !app.Config.RateLimitEnabled {
		app.Logger.Info("Rate limiting: Disabled")
		return nil
	}

	limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: app.Config.RateLimitRPS,
		BurstSize:         app.Config.RateLimitBurst,
	})
	if err != nil {
		return err
	}
	app.RateLimiter = limiter
	app.Logger.Info("Rate limiting: Enabled",
		logging.Field{Key: "requests_per_second", Value: app.Config.RateLimitRPS},
		logging.Field{Key: "burst", Value: app.Config.RateLimitBurst},
	)
	return nil
}
