package handlers

import (
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-dev/portside/internal/gateway"
	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/remote"
	"github.com/portside-dev/portside/internal/remote/remotetest"
)

// wsFixture serves the full transport stack on a real TCP port so a gorilla
// client can exercise it exactly like a remote UI would.
type wsFixture struct {
	addr     string
	registry *remote.Registry
	sshd     *remotetest.Server
}

func newWSFixture(t *testing.T, secret string) *wsFixture {
	t.Helper()

	sshd, err := remotetest.NewServer()
	require.NoError(t, err)
	t.Cleanup(sshd.Close)

	clients := gateway.NewClients()
	registry := remote.NewRegistry(func(clientID string) *remote.Connection {
		return remote.NewConnection(clientID, 5*time.Second, gateway.NewConnectionNotifier(clients, clientID))
	})
	t.Cleanup(registry.Cleanup)

	router := gateway.NewRouter(secret, gateway.NewSSHHandler(registry))
	gatewayHandler := NewGatewayHandler(clients, router)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/v1/gateway", gatewayHandler.HandleWebSocket)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return &wsFixture{addr: ln.Addr().String(), registry: registry, sshd: sshd}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws://" + f.addr + "/v1/gateway"
	var conn *websocket.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Cleanup(func() { _ = conn.Close() })
			return conn
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("failed to dial gateway: %v", err)
	return nil
}

func wsSend(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(models.NewEnvelope(msgType, payload)))
}

func wsRead(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var env models.Envelope
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

// wsReadType skips frames until one of the wanted type arrives.
func wsReadType(t *testing.T, conn *websocket.Conn, msgType string) models.Envelope {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		env := wsRead(t, conn)
		if env.Type == msgType {
			return env
		}
	}
	t.Fatalf("no %s frame before deadline", msgType)
	return models.Envelope{}
}

func wsAuth(t *testing.T, conn *websocket.Conn, token string) models.AuthResponse {
	t.Helper()
	wsSend(t, conn, models.TypeAuth, models.AuthRequest{Token: token})
	env := wsReadType(t, conn, models.TypeAuthResponse)
	var resp models.AuthResponse
	require.NoError(t, env.Decode(&resp))
	return resp
}

func wsConnect(t *testing.T, f *wsFixture, conn *websocket.Conn) {
	t.Helper()
	wsSend(t, conn, models.TypeSSHConnect, models.SSHConnectRequest{
		Host:     f.sshd.Host(),
		Port:     f.sshd.Port(),
		Username: remotetest.DefaultUser,
		Password: remotetest.DefaultPassword,
	})
	env := wsReadType(t, conn, models.TypeSSHConnectResponse)
	var resp models.SSHConnectResponse
	require.NoError(t, env.Decode(&resp))
	require.True(t, resp.Success, resp.Message)
}

func TestGatewayShellRoundtrip(t *testing.T) {
	f := newWSFixture(t, "ws-secret")
	conn := f.dial(t)

	resp := wsAuth(t, conn, "ws-secret")
	require.True(t, resp.Success)

	wsConnect(t, f, conn)

	wsSend(t, conn, models.TypeSSHStartShell, models.SSHStartShellRequest{SessionID: "s1"})
	env := wsReadType(t, conn, models.TypeSSHShellStarted)
	var started models.SSHShellStarted
	require.NoError(t, env.Decode(&started))
	assert.Equal(t, "s1", started.SessionID)

	wsSend(t, conn, models.TypeSSHInput, models.SSHInputRequest{SessionID: "s1", Input: "echo hi\n"})

	// The fixture shell echoes; collect output until "hi" shows up.
	var output strings.Builder
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		env := wsReadType(t, conn, models.TypeSSHOutput)
		var out models.SSHOutput
		require.NoError(t, env.Decode(&out))
		assert.Equal(t, "s1", out.SessionID)
		output.WriteString(out.Output)
		if strings.Contains(output.String(), "hi") {
			break
		}
	}
	assert.Contains(t, output.String(), "hi")
}

func TestGatewayPreAuthGate(t *testing.T) {
	f := newWSFixture(t, "ws-secret")
	conn := f.dial(t)

	wsSend(t, conn, models.TypeSSHListShells, nil)
	env := wsRead(t, conn)
	assert.Equal(t, models.TypeAuthRequired, env.Type)
	assert.NotEmpty(t, env.Error)

	// Transport must still be usable: auth now and proceed.
	resp := wsAuth(t, conn, "ws-secret")
	assert.True(t, resp.Success)
}

func TestGatewayWrongTokenKeepsSocketOpen(t *testing.T) {
	f := newWSFixture(t, "ws-secret")
	conn := f.dial(t)

	resp := wsAuth(t, conn, "nope")
	assert.False(t, resp.Success)

	resp = wsAuth(t, conn, "ws-secret")
	assert.True(t, resp.Success)
}

func TestGatewayEmptySecretAcceptsAnyToken(t *testing.T) {
	f := newWSFixture(t, "")
	conn := f.dial(t)

	resp := wsAuth(t, conn, "anything-at-all")
	assert.True(t, resp.Success)
}

func TestGatewayDisconnectCleansRegistry(t *testing.T) {
	f := newWSFixture(t, "")
	conn := f.dial(t)

	require.True(t, wsAuth(t, conn, "").Success)
	wsConnect(t, f, conn)

	wsSend(t, conn, models.TypeSSHStartShell, models.SSHStartShellRequest{SessionID: "a"})
	wsReadType(t, conn, models.TypeSSHShellStarted)
	require.Equal(t, 1, f.registry.Count())

	require.NoError(t, conn.Close())

	// Transport loss cascades: the client's connection leaves the registry.
	require.Eventually(t, func() bool {
		return f.registry.Count() == 0
	}, 10*time.Second, 50*time.Millisecond)
}
