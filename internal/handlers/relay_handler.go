package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/onpostt/relay/internal/dto"
	"github.com/onpostt/relay/internal/services"
)

// RelayHandler serves the one-shot HTTP surface of the relay.
type RelayHandler struct {
	relay *services.RelayService
}

func NewRelayHandler(relay *services.RelayService) *RelayHandler {
	return &RelayHandler{relay: relay}
}

// GetBlocksList answers a filter posted as the request body with the matching
// blocks, in the same shape the websocket channel uses.
func (h *RelayHandler) GetBlocksList(c *fiber.Ctx) error {
	var filter dto.Filter
	if err := c.BodyParser(&filter); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Error("invalid filter: " + err.Error()))
	}

	blocks, err := h.relay.GetBlocks(c.Context(), &filter)
	if err != nil {
		if errors.Is(err, services.ErrInvalidFilter) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.Error(err.Error()))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.Error("failed to fetch blocks"))
	}

	return c.JSON(dto.Blocks(blocks, ""))
}

// SaveBlock publishes one raw block. The result is always the structured
// status envelope; rejections do not use HTTP error codes so clients match on
// the status field alone.
func (h *RelayHandler) SaveBlock(c *fiber.Ctx) error {
	var block dto.Block
	if err := c.BodyParser(&block); err != nil {
		return c.JSON(dto.Error("invalid block: " + err.Error()))
	}

	status, _ := h.relay.SaveBlock(c.Context(), &block)
	return c.JSON(status)
}
