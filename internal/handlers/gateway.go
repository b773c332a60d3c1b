package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/portside-dev/portside/internal/gateway"
	"github.com/portside-dev/portside/internal/logger"
	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/recovery"
)

// Transport liveness: the server pings every pingPeriod and expects a pong
// (or any read) within pongWait; a silent peer is dropped and the cleanup
// cascade runs.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// GatewayHandler upgrades /v1/gateway to the WebSocket message protocol.
// Each accepted socket gets a fresh UUID identity, one reader (this
// handler) and one writer pump; when either side dies the client is
// closed, every message handler's per-client cleanup runs, and the
// identity is discarded.
type GatewayHandler struct {
	clients *gateway.Clients
	router  *gateway.Router
	log     zerolog.Logger
}

// NewGatewayHandler creates the transport endpoint over the shared client
// table and router.
func NewGatewayHandler(clients *gateway.Clients, router *gateway.Router) *GatewayHandler {
	return &GatewayHandler{
		clients: clients,
		router:  router,
		log:     logger.WithComponent("transport"),
	}
}

// HandleWebSocket upgrades the request and serves the message loop
// @Summary Gateway WebSocket endpoint
// @Description Bidirectional message protocol: auth, SSH shells, port forwards, files, search, git, assistant events
// @Tags gateway
// @Router /v1/gateway [get]
func (h *GatewayHandler) HandleWebSocket(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			h.serve(conn)
		})(c)
	}
	return fiber.ErrUpgradeRequired
}

func (h *GatewayHandler) serve(conn *websocket.Conn) {
	clientID := uuid.New().String()
	client := gateway.NewClient(clientID)
	h.clients.Add(client)
	h.log.Info().Str("client", clientID).Str("remote", conn.RemoteAddr().String()).Msg("🔌 gateway client connected")

	defer func() {
		client.Close()
		h.router.Cleanup(clientID)
		h.clients.Remove(clientID)
		_ = conn.Close()
		h.log.Info().Str("client", clientID).Msg("🧹 gateway client cleaned up")
	}()

	// Single writer: envelopes and pings never interleave mid frame. Its
	// cleanup closes the socket so a write failure also ends the reader.
	recovery.SafeGoWithCleanup("gateway-writer/"+clientID, func() {
		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case env := <-client.Outbox():
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-client.Done():
				return
			}
		}
	}, func() {
		client.Close()
		_ = conn.Close()
	})

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.log.Debug().Str("client", clientID).Err(err).Msg("transport read ended")
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// One bad frame never costs the transport.
			h.log.Debug().Str("client", clientID).Err(err).Msg("malformed frame dropped")
			continue
		}
		h.router.Dispatch(client, env)
	}
}
