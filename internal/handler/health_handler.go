package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/config"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	OpenRooms   int       `json:"open_rooms"`
}

// HealthCheck returns a handler that reports bridge health. manager may be nil.
func HealthCheck(cfg config.Config, manager RoomManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}
		if manager != nil {
			payload.OpenRooms = len(manager.OpenRoomIDs())
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
