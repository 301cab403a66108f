package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler  *handler.GradingHandler
	StreamHandler   *handler.GradingStreamHandler
	ActivityHandler *handler.ActivityHandler
	HealthProbes    map[string]handler.HealthProbe
	JWTMiddleware   fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	grading := app.Group(middleware.GradingAPIPrefix, jwtMiddleware)

	if deps.GradingHandler != nil {
		deps.GradingHandler.Register(grading)
	}

	if deps.StreamHandler != nil {
		deps.StreamHandler.Register(grading)
	}

	if deps.ActivityHandler != nil {
		activity := grading.Group("/activity", middleware.RequireRole(middleware.AuthRoleAdmin))
		deps.ActivityHandler.Register(activity)
	}
}
