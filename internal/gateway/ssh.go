package gateway

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/portside-dev/portside/internal/logger"
	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/recovery"
	"github.com/portside-dev/portside/internal/remote"
)

// Shell session defaults applied at the protocol boundary.
const (
	defaultSessionID = "default"
	defaultCols      = 80
	defaultRows      = 24
)

// SSHHandler owns the ssh_ message namespace: connection lifecycle, shell
// multiplexing and port forwards, all backed by the per-client connection
// registry.
type SSHHandler struct {
	registry *remote.Registry
	log      zerolog.Logger
}

// NewSSHHandler creates the handler over the shared connection registry.
func NewSSHHandler(registry *remote.Registry) *SSHHandler {
	return &SSHHandler{
		registry: registry,
		log:      logger.WithComponent("ssh"),
	}
}

// Owns claims every ssh_ prefixed type.
func (h *SSHHandler) Owns(msgType string) bool {
	return strings.HasPrefix(msgType, "ssh_")
}

// Handle dispatches one ssh_ message for the client.
func (h *SSHHandler) Handle(client *Client, env models.Envelope) {
	switch env.Type {
	case models.TypeSSHConnect:
		h.connect(client, env)
	case models.TypeSSHStartShell:
		h.startShell(client, env)
	case models.TypeSSHInput:
		h.input(client, env)
	case models.TypeSSHResize:
		h.resize(client, env)
	case models.TypeSSHCloseShell:
		h.closeShell(client, env)
	case models.TypeSSHListShells:
		h.listShells(client)
	case models.TypeSSHDisconnect:
		h.disconnect(client)
	case models.TypeSSHPortForward:
		h.portForward(client, env)
	case models.TypeSSHStopPortForward:
		h.stopPortForward(client, env)
	default:
		h.log.Debug().Str("type", env.Type).Msg("unknown ssh message dropped")
	}
}

// Cleanup tears down the client's remote connection and everything
// multiplexed over it.
func (h *SSHHandler) Cleanup(clientID string) {
	h.registry.Remove(clientID)
}

func (h *SSHHandler) connect(client *Client, env models.Envelope) {
	var req models.SSHConnectRequest
	if err := env.Decode(&req); err != nil {
		client.Send(models.NewEnvelope(models.TypeSSHConnectResponse,
			models.SSHConnectResponse{Success: false, Message: "malformed connect request"}))
		return
	}

	conn := h.registry.Get(client.ID)
	err := conn.Connect(context.Background(), req.Host, req.Port, req.Username, remote.Credential{
		Password:   req.Password,
		PrivateKey: req.PrivateKey,
	})
	if err != nil {
		client.Send(models.NewEnvelope(models.TypeSSHConnectResponse,
			models.SSHConnectResponse{Success: false, Message: err.Error()}))
		return
	}

	client.Send(models.NewEnvelope(models.TypeSSHConnectResponse,
		models.SSHConnectResponse{Success: true}))
	client.Send(models.NewEnvelope(models.TypeSSHStatus,
		models.SSHStatus{Status: models.StatusConnected}))
}

func (h *SSHHandler) startShell(client *Client, env models.Envelope) {
	var req models.SSHStartShellRequest
	if err := env.Decode(&req); err != nil {
		client.Send(models.ErrorEnvelope(models.TypeSSHShellStarted, "malformed start_shell request"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}
	if req.Cols <= 0 {
		req.Cols = defaultCols
	}
	if req.Rows <= 0 {
		req.Rows = defaultRows
	}

	shell, err := h.registry.Get(client.ID).StartShell(req.SessionID, req.Cols, req.Rows)
	if err != nil {
		client.Send(models.ErrorEnvelope(models.TypeSSHShellStarted, err.Error()))
		return
	}

	// Confirm before the pump starts so the started frame precedes the
	// first output frame. Early output waits in the shell's buffer.
	client.Send(models.NewEnvelope(models.TypeSSHShellStarted,
		models.SSHShellStarted{SessionID: req.SessionID}))

	sessionID := req.SessionID
	recovery.SafeGo("shell-pump/"+client.ID+"/"+sessionID, func() {
		// Drain until the shell ends even after the client is gone, so
		// the shell side is never blocked on a dead consumer.
		for chunk := range shell.Output() {
			client.Send(models.NewEnvelope(models.TypeSSHOutput,
				models.SSHOutput{SessionID: sessionID, Output: string(chunk)}))
		}

		// The channel closing is the shell's single end-of-life signal,
		// so the closed frame lands after the last output frame.
		msg := models.SSHShellClosed{SessionID: sessionID}
		if shell.CloseRequested() {
			success := true
			msg.Success = &success
		}
		client.Send(models.NewEnvelope(models.TypeSSHShellClosed, msg))
	})
}

func (h *SSHHandler) input(client *Client, env models.Envelope) {
	var req models.SSHInputRequest
	if err := env.Decode(&req); err != nil {
		client.Send(models.NewEnvelope(models.TypeSSHStatus,
			models.SSHStatus{Status: models.StatusError, Message: "malformed input request"}))
		return
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}

	if !h.registry.Get(client.ID).WriteToShell(req.SessionID, []byte(req.Input)) {
		client.Send(models.NewEnvelope(models.TypeSSHStatus,
			models.SSHStatus{Status: models.StatusError, Message: "no shell " + req.SessionID}))
	}
}

func (h *SSHHandler) resize(client *Client, env models.Envelope) {
	var req models.SSHResizeRequest
	if err := env.Decode(&req); err != nil {
		client.Send(models.NewEnvelope(models.TypeSSHStatus,
			models.SSHStatus{Status: models.StatusError, Message: "malformed resize request"}))
		return
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}

	if !h.registry.Get(client.ID).ResizeShell(req.SessionID, req.Cols, req.Rows) {
		client.Send(models.NewEnvelope(models.TypeSSHStatus,
			models.SSHStatus{Status: models.StatusError, Message: "no shell " + req.SessionID}))
	}
}

func (h *SSHHandler) closeShell(client *Client, env models.Envelope) {
	var req models.SSHCloseShellRequest
	if err := env.Decode(&req); err != nil || req.SessionID == "" {
		client.Send(models.NewEnvelope(models.TypeSSHStatus,
			models.SSHStatus{Status: models.StatusError, Message: "malformed close_shell request"}))
		return
	}

	// On success the connection notifier delivers the single
	// ssh_shell_closed frame; replying here too would double it.
	if !h.registry.Get(client.ID).CloseShell(req.SessionID) {
		success := false
		client.Send(models.NewEnvelope(models.TypeSSHShellClosed,
			models.SSHShellClosed{SessionID: req.SessionID, Success: &success}))
	}
}

func (h *SSHHandler) listShells(client *Client) {
	client.Send(models.NewEnvelope(models.TypeSSHListShellsResponse,
		models.SSHListShellsResponse{Shells: h.registry.Get(client.ID).ActiveShells()}))
}

func (h *SSHHandler) disconnect(client *Client) {
	h.registry.Remove(client.ID)
	client.Send(models.NewEnvelope(models.TypeSSHStatus,
		models.SSHStatus{Status: models.StatusDisconnected}))
}

func (h *SSHHandler) portForward(client *Client, env models.Envelope) {
	var req models.SSHPortForwardRequest
	if err := env.Decode(&req); err != nil {
		client.Send(models.NewEnvelope(models.TypeSSHPortForwardResponse,
			models.SSHPortForwardResponse{Success: false, Message: "malformed port_forward request"}))
		return
	}

	err := h.registry.Get(client.ID).SetupPortForward(req.LocalPort, req.RemoteHost, req.RemotePort)
	resp := models.SSHPortForwardResponse{Success: err == nil, LocalPort: req.LocalPort}
	if err != nil {
		resp.Message = err.Error()
	}
	client.Send(models.NewEnvelope(models.TypeSSHPortForwardResponse, resp))
}

func (h *SSHHandler) stopPortForward(client *Client, env models.Envelope) {
	var req models.SSHStopPortForwardRequest
	if err := env.Decode(&req); err != nil {
		client.Send(models.NewEnvelope(models.TypeSSHStopPortForwardResp,
			models.SSHStopPortForwardResponse{Success: false}))
		return
	}

	ok := h.registry.Get(client.ID).StopPortForward(req.LocalPort)
	client.Send(models.NewEnvelope(models.TypeSSHStopPortForwardResp,
		models.SSHStopPortForwardResponse{Success: ok, LocalPort: req.LocalPort}))
}

// ConnectionNotifier forwards asynchronous connection events to the owning
// client. It looks the client up per event so a departed client is simply
// skipped.
type ConnectionNotifier struct {
	clients  *Clients
	clientID string
}

// NewConnectionNotifier binds a notifier to one client id.
func NewConnectionNotifier(clients *Clients, clientID string) *ConnectionNotifier {
	return &ConnectionNotifier{clients: clients, clientID: clientID}
}

// ShellClosed is a no-op: the shell pump in startShell delivers the closed
// frame when the output channel ends, which keeps it ordered after the
// final output frame.
func (n *ConnectionNotifier) ShellClosed(string, bool) {}

// ConnectionLost reports a remote-side connection drop. The send runs on
// its own goroutine because notifier callbacks must not block.
func (n *ConnectionNotifier) ConnectionLost(reason string) {
	client := n.clients.Get(n.clientID)
	if client == nil {
		return
	}
	recovery.SafeGo("connection-lost/"+n.clientID, func() {
		client.Send(models.NewEnvelope(models.TypeSSHStatus,
			models.SSHStatus{Status: models.StatusDisconnected, Message: reason}))
	})
}
