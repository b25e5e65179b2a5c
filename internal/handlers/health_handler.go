package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/onpostt/relay/internal/database"
	"github.com/onpostt/relay/internal/dto"
)

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Status(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := database.Ping(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status: true,
		DB:     dbStatus,
	})
}
