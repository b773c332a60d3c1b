package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/portside-dev/portside/internal/logger"
	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/services"
)

// heartbeatInterval paces SSE keepalive frames so idle streams survive
// proxies with short read timeouts.
const heartbeatInterval = 30 * time.Second

// SSEMessage is one frame on the event stream.
type SSEMessage struct {
	Event     any    `json:"event"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
}

type heartbeatPayload struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Uptime    int64  `json:"uptime"`
}

// EventsHandler streams assistant events over SSE. It is a second consumer
// of the monitor service, for clients that want the watcher feed without
// holding a gateway socket.
type EventsHandler struct {
	monitor   *services.MonitorService
	startTime time.Time
}

// NewEventsHandler creates the SSE endpoint over the shared monitor.
func NewEventsHandler(monitor *services.MonitorService) *EventsHandler {
	return &EventsHandler{
		monitor:   monitor,
		startTime: time.Now(),
	}
}

// HandleSSE streams assistant events
// @Summary Server-Sent Events stream of coding-assistant activity
// @Description Streams parsed assistant session-log events (user_input, assistant_message, tool_call, tool_result, file_change) as SSE data frames, with a heartbeat every 30 seconds.
// @Tags events
// @Produce text/event-stream
// @Success 200 {string} string "SSE stream"
// @Router /v1/events [get]
func (h *EventsHandler) HandleSSE(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // disable nginx buffering

	// The subscriber id doubles as the stream's identity in logs. The
	// monitor applies its own drop-oldest policy when we fall behind.
	subscriberID := "sse-" + uuid.New().String()
	events := h.monitor.Subscribe(subscriberID)
	logger.Infof("📡 SSE client connected: %s from %s", subscriberID, c.IP())

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			h.monitor.Unsubscribe(subscriberID)
			logger.Debugf("SSE client gone: %s", subscriberID)
		}()

		send := func(msg SSEMessage) bool {
			b, err := json.Marshal(msg)
			if err != nil {
				return true
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return false
			}
			return w.Flush() == nil
		}

		if !send(h.makeHeartbeat()) {
			return
		}

		tick := time.NewTicker(heartbeatInterval)
		defer tick.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					// Monitor stopped or the subscription was replaced.
					return
				}
				if !send(h.makeEvent(ev)) {
					return
				}
			case <-tick.C:
				if !send(h.makeHeartbeat()) {
					return
				}
			}
		}
	}))

	return nil
}

func (h *EventsHandler) makeEvent(ev models.AssistantEvent) SSEMessage {
	return SSEMessage{
		Event:     ev,
		Timestamp: time.Now().UnixMilli(),
		ID:        uuid.New().String(),
	}
}

func (h *EventsHandler) makeHeartbeat() SSEMessage {
	return SSEMessage{
		Event: heartbeatPayload{
			Kind:      "heartbeat",
			Timestamp: time.Now().UnixMilli(),
			Uptime:    time.Since(h.startTime).Milliseconds(),
		},
		Timestamp: time.Now().UnixMilli(),
		ID:        uuid.New().String(),
	}
}
