package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/courseforge/courseforge-api/internal/config"
	"github.com/courseforge/courseforge-api/internal/handler"
	"github.com/courseforge/courseforge-api/internal/middleware"
	"github.com/courseforge/courseforge-api/internal/observability"
	"github.com/courseforge/courseforge-api/internal/repository"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GroupingHandler   *handler.GroupingHandler
	TestResultHandler *handler.TestResultHandler
	AssignmentRepo    repository.AssignmentRepository
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	api.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.GroupingHandler != nil {
		groupings := app.Group("/api/v1/groupings", jwtMiddleware)
		deps.GroupingHandler.Register(groupings)
	}

	assignments := app.Group("/api/v1/assignments", jwtMiddleware)

	if deps.GroupingHandler != nil && deps.AssignmentRepo != nil {
		deps.GroupingHandler.RegisterAssignmentRoutes(assignments, middleware.RequireRole("admin"), deps.AssignmentRepo)
	}

	// The autotest worker pushes results with a grader credential and may
	// request XML.
	if deps.TestResultHandler != nil {
		deps.TestResultHandler.Register(assignments, middleware.RequireRole("admin", "ta"))
	}
}
