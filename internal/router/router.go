package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/config"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/handler"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/middleware"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler *handler.ChatHandler
	RoomManager handler.RoomManager
	// Gatherer backs /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
}

// Register wires the bridge routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler(deps.Gatherer))

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.RoomManager))

	if deps.ChatHandler != nil {
		deps.ChatHandler.Register(api, middleware.RateLimit("chat_send", cfg.SendRateLimit, time.Minute))
	}
}
