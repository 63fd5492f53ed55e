package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/utils"
)

// RateLimit throttles a bridge action per room and caller so a misbehaving UI cannot flood the
// backend through the fallback path.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			room := c.Params("id")
			if room == "" {
				room = "-"
			}
			return fmt.Sprintf("%s:%s:%s", identifier, room, c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many requests")
		},
	})
}
