package gateway

import (
	"crypto/subtle"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/portside-dev/portside/internal/logger"
	"github.com/portside-dev/portside/internal/models"
)

// Handler owns a slice of the message-type namespace. Handle runs on the
// client's dispatch goroutine; anything long-lived it starts must go
// through its own goroutines. Cleanup is invoked once when the client's
// transport closes, whether or not the handler ever saw a message from it.
type Handler interface {
	Owns(msgType string) bool
	Handle(client *Client, env models.Envelope)
	Cleanup(clientID string)
}

// Router dispatches inbound envelopes to the first handler that owns the
// type. Authentication is handled by the router itself so no handler sees
// traffic from an unauthenticated client when a secret is configured.
type Router struct {
	secret   string
	handlers []Handler
	log      zerolog.Logger
}

// NewRouter creates a router guarding handlers with the shared secret. An
// empty secret disables the gate; every auth token is accepted.
func NewRouter(secret string, handlers ...Handler) *Router {
	return &Router{
		secret:   secret,
		handlers: handlers,
		log:      logger.WithComponent("router"),
	}
}

// Dispatch routes one envelope. Unknown types are logged and dropped;
// handler panics are converted into error envelopes so the transport and
// the other clients never notice.
func (r *Router) Dispatch(client *Client, env models.Envelope) {
	if env.Type == models.TypeAuth {
		r.handleAuth(client, env)
		return
	}

	if r.secret != "" && !client.Authenticated() {
		client.Send(models.ErrorEnvelope(models.TypeAuthRequired, "authentication required"))
		return
	}

	for _, h := range r.handlers {
		if h.Owns(env.Type) {
			r.dispatchTo(h, client, env)
			return
		}
	}
	r.log.Debug().Str("type", env.Type).Str("client", client.ID).Msg("unknown message type dropped")
}

func (r *Router) dispatchTo(h Handler, client *Client, env models.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("type", env.Type).
				Str("client", client.ID).
				Interface("panic", rec).
				Msg("🚨 handler panic recovered")
			r.log.Error().Msgf("Stack trace:\n%s", debug.Stack())
			client.Send(models.ErrorEnvelope(env.Type+"_response", "internal error"))
		}
	}()
	h.Handle(client, env)
}

// handleAuth answers auth requests. Failures leave the transport open so
// the client can retry; repeating auth after success is idempotent.
func (r *Router) handleAuth(client *Client, env models.Envelope) {
	var req models.AuthRequest
	if err := env.Decode(&req); err != nil {
		client.Send(models.NewEnvelope(models.TypeAuthResponse,
			models.AuthResponse{Success: false, Message: "malformed auth request"}))
		return
	}

	if r.secret != "" && subtle.ConstantTimeCompare([]byte(req.Token), []byte(r.secret)) != 1 {
		r.log.Warn().Str("client", client.ID).Msg("⚠️ auth failed")
		client.Send(models.NewEnvelope(models.TypeAuthResponse,
			models.AuthResponse{Success: false, Message: "invalid token"}))
		return
	}

	client.SetAuthenticated()
	r.log.Debug().Str("client", client.ID).Msg("client authenticated")
	client.Send(models.NewEnvelope(models.TypeAuthResponse, models.AuthResponse{Success: true}))
}

// Cleanup runs every handler's per-client cleanup. The transport layer
// calls this exactly once per departed client.
func (r *Router) Cleanup(clientID string) {
	for _, h := range r.handlers {
		h.Cleanup(clientID)
	}
}
