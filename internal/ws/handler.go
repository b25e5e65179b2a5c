// Package ws exposes the relay over a persistent bidirectional channel:
// queries, conversation subscriptions and raw block publishes, with
// admission control at the upgrade boundary and inactivity-based eviction.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/onpostt/relay/internal/config"
	"github.com/onpostt/relay/internal/dto"
	"github.com/onpostt/relay/internal/models"
	"github.com/onpostt/relay/internal/services"
)

// wsConn serializes writes to one websocket connection. Broadcasts arrive
// from other connections' read loops, so WriteJSON must be locked.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) closeWith(code int, reason string) {
	c.mu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.mu.Unlock()
	c.conn.Close()
}

type Handler struct {
	cfg    *config.Config
	relay  *services.RelayService
	active atomic.Int64
}

func NewHandler(cfg *config.Config, relay *services.RelayService) *Handler {
	return &Handler{cfg: cfg, relay: relay}
}

// ActiveConnections returns the number of open sockets, accepted or not yet
// subscribed.
func (h *Handler) ActiveConnections() int64 {
	return h.active.Load()
}

// Upgrade gates new connections before they are accepted: disallowed origins
// and connection-limit overflow are rejected at the HTTP boundary and never
// enter the registry.
func (h *Handler) Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if origin := c.Get("Origin"); origin != "" && !h.cfg.OriginAllowed(origin) {
			slog.Warn("connection rejected: origin not allowed", "origin", origin)
			return fiber.NewError(fiber.StatusForbidden, "origin not allowed")
		}
		if int(h.active.Load()) >= h.cfg.SocketMaxConnections {
			slog.Warn("connection rejected: connection limit reached")
			return fiber.NewError(fiber.StatusServiceUnavailable, "connection limit reached")
		}
		return c.Next()
	}
}

// Socket returns the websocket endpoint handler.
func (h *Handler) Socket() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *Handler) serve(conn *websocket.Conn) {
	h.active.Add(1)
	defer h.active.Add(-1)

	client := &wsConn{conn: conn}
	conn.SetReadLimit(h.cfg.SocketMaxMessageSize)

	var identity string
	timeout := h.cfg.SocketInactivityTimeout
	timer := time.AfterFunc(timeout, func() {
		client.closeWith(websocket.CloseNormalClosure, "inactive connection")
		slog.Info("connection closed for inactivity", "pubkey", identity)
	})
	defer timer.Stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		timer.Reset(timeout)
		identity = h.handleFrame(client, identity, msg)
	}

	if identity != "" {
		h.relay.Sessions().Unregister(identity)
	}
}

// handleFrame processes one inbound frame and returns the identity bound to
// this connection so far. Per-frame failures answer with a structured erro
// status and never terminate the connection.
func (h *Handler) handleFrame(client *wsConn, identity string, msg []byte) string {
	ctx := context.Background()

	var env dto.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		client.WriteJSON(dto.Error("failed to process message: " + err.Error()))
		return identity
	}

	switch env.Request {
	case dto.RequestGetBlocks:
		blocks, err := h.relay.GetBlocks(ctx, env.Filter)
		if err != nil {
			client.WriteJSON(dto.Error(err.Error()))
			return identity
		}
		client.WriteJSON(dto.Blocks(blocks, env.RequestID))
		return identity

	case dto.RequestGetBlocksSub:
		return h.handleSubscribe(ctx, client, identity, &env)

	case "":
		return h.handlePublish(ctx, client, identity, msg)

	default:
		client.WriteJSON(dto.Error("unknown request: " + env.Request))
		return identity
	}
}

func (h *Handler) handleSubscribe(ctx context.Context, client *wsConn, identity string, env *dto.Envelope) string {
	query := env.Query
	if len(query) == 0 && env.Filter != nil {
		if pairs, err := env.Filter.TagQuery(); err == nil {
			query = pairs
		}
	}

	from, _ := query.Get("from")
	to, _ := query.Get("to")
	if from == "" && env.Filter != nil {
		from = env.Filter.Pubkey
	}
	if from == "" || to == "" {
		client.WriteJSON(dto.Error("missing 'from' or 'to' in query"))
		return identity
	}

	h.relay.Sessions().Subscribe(from, to, client)

	// Initial snapshot, same shape as a one-shot query. A bad filter still
	// answers with an empty snapshot rather than tearing the session down.
	blocks, err := h.relay.GetBlocks(ctx, env.Filter)
	if err != nil {
		slog.Warn("subscription snapshot failed", "pubkey", from, "error", err)
		blocks = []models.Block{}
	}
	client.WriteJSON(dto.Blocks(blocks, env.RequestID))
	return from
}

func (h *Handler) handlePublish(ctx context.Context, client *wsConn, identity string, msg []byte) string {
	var block dto.Block
	if err := json.Unmarshal(msg, &block); err != nil {
		client.WriteJSON(dto.Error("invalid block: " + err.Error()))
		return identity
	}

	var status dto.Status
	if block.Mode == models.ModeMessage {
		status, _ = h.relay.PublishMessage(ctx, &block)
		if identity == "" {
			if from, _, ok := block.Query.FromTo(); ok {
				identity = from
			}
		}
	} else {
		status, _ = h.relay.SaveBlock(ctx, &block)
	}

	client.WriteJSON(status)
	return identity
}
