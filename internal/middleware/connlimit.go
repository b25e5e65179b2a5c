package middleware

import (
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/onpostt/relay/internal/dto"
)

// ConnLimit caps concurrent in-flight HTTP requests. Excess load is rejected
// at the boundary with a structured erro response; there is no queuing.
func ConnLimit(max int) (fiber.Handler, *atomic.Int64) {
	var active atomic.Int64

	handler := func(c *fiber.Ctx) error {
		if active.Load() >= int64(max) {
			return c.Status(fiber.StatusServiceUnavailable).
				JSON(dto.Error("maximum concurrent connection limit reached"))
		}
		active.Add(1)
		defer active.Add(-1)
		return c.Next()
	}
	return handler, &active
}
