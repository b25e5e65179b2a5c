package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/onpostt/relay/internal/handlers"
	"github.com/onpostt/relay/internal/ws"
)

func Setup(
	app *fiber.App,
	relayHandler *handlers.RelayHandler,
	healthHandler *handlers.HealthHandler,
	wsHandler *ws.Handler,
) {
	// One-shot request/response surface
	app.Post("/get_blocks_list", relayHandler.GetBlocksList)
	app.Post("/save_block", relayHandler.SaveBlock)
	app.Post("/status", healthHandler.Status)

	// Persistent bidirectional channel
	app.Use("/ws", wsHandler.Upgrade())
	app.Get("/ws", wsHandler.Socket())
}
