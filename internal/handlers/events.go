package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"breadcrumbd/internal/events"
	"breadcrumbd/internal/models"
	"breadcrumbd/internal/services"
)

// EventsHandler serves the live event stream over SSE and WebSocket.
// Each connection registers one subscription; closing the connection
// deregisters it and releases its queue. Reconnects are fresh
// subscriptions; missed events are reconciled via read/search.
type EventsHandler struct {
	bus           *events.Bus
	subscriptions *services.SubscriptionService
	heartbeat     time.Duration
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(bus *events.Bus, subscriptions *services.SubscriptionService, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}
	return &EventsHandler{bus: bus, subscriptions: subscriptions, heartbeat: heartbeat}
}

// selectorFromRequest builds the connection's selector from query
// parameters. subscription_id attaches a stored selector; otherwise
// tags/all_tags/schema_name or a full JSON selector are read inline.
// With no scope at all the agent's latest durable subscription applies.
func (h *EventsHandler) selectorFromRequest(c *fiber.Ctx, agentID string) (models.Selector, error) {
	if subID := c.Query("subscription_id"); subID != "" {
		sub, err := h.subscriptions.Get(c.Context(), subID)
		if err != nil {
			return models.Selector{}, fmt.Errorf("unknown subscription %s", subID)
		}
		if sub.AgentID != agentID {
			return models.Selector{}, fmt.Errorf("subscription %s belongs to another agent", subID)
		}
		return sub.Selector, nil
	}

	if raw := c.Query("selector"); raw != "" {
		var sel models.Selector
		if err := json.Unmarshal([]byte(raw), &sel); err != nil {
			return models.Selector{}, fmt.Errorf("malformed selector parameter")
		}
		return sel, nil
	}

	sel := models.Selector{SchemaName: c.Query("schema_name")}
	if tags := c.Query("tags"); tags != "" {
		sel.AnyTags = strings.Split(tags, ",")
	}
	if tags := c.Query("all_tags"); tags != "" {
		sel.AllTags = strings.Split(tags, ",")
	}
	if sel.SchemaName == "" && len(sel.AnyTags) == 0 && len(sel.AllTags) == 0 {
		// No inline scope: adopt the agent's most recent durable
		// subscription. An agent with none gets the match-all selector.
		stored, err := h.subscriptions.ListByAgent(c.Context(), agentID)
		if err == nil && len(stored) > 0 {
			return stored[len(stored)-1].Selector, nil
		}
	}
	return sel, nil
}

// Stream serves the SSE surface
// GET /events/stream?{tags,all_tags,schema_name,selector,subscription_id,projected}
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	agentID, _ := c.Locals("agent_id").(string)
	sel, err := h.selectorFromRequest(c, agentID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	}
	projected := c.QueryBool("projected")

	connID := uuid.New().String()
	sub := h.bus.Subscribe(connID, agentID, sel, projected)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	heartbeat := h.heartbeat
	bus := h.bus
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer bus.Unsubscribe(connID)
		if m := services.GetMetrics(); m != nil {
			m.RecordStreamConnect()
			defer m.RecordStreamDisconnect()
		}
		log.Printf("[STREAM] SSE connected: %s (agent=%s)", connID, agentID)

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		write := func(evt models.Event) bool {
			payload, err := json.Marshal(evt)
			if err != nil {
				return true
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return false
			}
			return w.Flush() == nil
		}

		for {
			select {
			case evt := <-sub.Events():
				if !write(evt) {
					log.Printf("[STREAM] SSE disconnected: %s", connID)
					return
				}
			case <-ticker.C:
				// Heartbeat keeps intermediaries from closing the
				// connection and lets consumers detect liveness.
				if !write(models.NewPing()) {
					log.Printf("[STREAM] SSE disconnected: %s", connID)
					return
				}
			}
		}
	}))
	return nil
}

// WebSocketUpgrade gates the WS route to upgrade requests
func (h *EventsHandler) WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		agentID, _ := c.Locals("agent_id").(string)
		sel, err := h.selectorFromRequest(c, agentID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "validation_failed",
				"message": err.Error(),
			})
		}
		c.Locals("stream_selector", sel)
		c.Locals("stream_projected", c.QueryBool("projected"))
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebSocket serves the event stream over a WebSocket connection
// GET /events/ws
func (h *EventsHandler) WebSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		agentID, _ := conn.Locals("agent_id").(string)
		sel, _ := conn.Locals("stream_selector").(models.Selector)
		projected, _ := conn.Locals("stream_projected").(bool)

		connID := uuid.New().String()
		sub := h.bus.Subscribe(connID, agentID, sel, projected)
		defer h.bus.Unsubscribe(connID)
		if m := services.GetMetrics(); m != nil {
			m.RecordStreamConnect()
			defer m.RecordStreamDisconnect()
		}
		log.Printf("[STREAM] WS connected: %s (agent=%s)", connID, agentID)

		// Reader goroutine: consumers may re-scope their subscription
		// by sending a selector object; anything else is ignored. The
		// read loop also surfaces the close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var next models.Selector
				if err := json.Unmarshal(msg, &next); err == nil {
					sub.Replace(next, projected)
				}
			}
		}()

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				log.Printf("[STREAM] WS disconnected: %s", connID)
				return
			case evt := <-sub.Events():
				if err := conn.WriteJSON(evt); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteJSON(models.NewPing()); err != nil {
					return
				}
			}
		}
	})
}
