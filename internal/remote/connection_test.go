package remote

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-dev/portside/internal/remote/remotetest"
)

// recordingNotifier captures async events for assertions.
type recordingNotifier struct {
	mu          sync.Mutex
	shellsDown  []string
	requested   map[string]bool
	lostReasons []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{requested: make(map[string]bool)}
}

func (n *recordingNotifier) ShellClosed(sessionID string, requested bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shellsDown = append(n.shellsDown, sessionID)
	n.requested[sessionID] = requested
}

func (n *recordingNotifier) ConnectionLost(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lostReasons = append(n.lostReasons, reason)
}

func (n *recordingNotifier) closedCount(sessionID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, id := range n.shellsDown {
		if id == sessionID {
			count++
		}
	}
	return count
}

func (n *recordingNotifier) wasRequested(sessionID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requested[sessionID]
}

func startTestServer(t *testing.T) *remotetest.Server {
	t.Helper()
	srv, err := remotetest.NewServer()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func connect(t *testing.T, srv *remotetest.Server, notifier Notifier) *Connection {
	t.Helper()
	conn := NewConnection("client-1", 5*time.Second, notifier)
	err := conn.Connect(context.Background(), srv.Host(), srv.Port(), remotetest.DefaultUser,
		Credential{Password: remotetest.DefaultPassword})
	require.NoError(t, err)
	t.Cleanup(conn.Disconnect)
	return conn
}

// drainUntil reads a shell's output until the predicate matches or the
// deadline passes, returning everything read.
func drainUntil(t *testing.T, shell *Shell, match string, timeout time.Duration) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.After(timeout)
	for {
		if strings.Contains(sb.String(), match) {
			return sb.String()
		}
		select {
		case chunk, ok := <-shell.Output():
			if !ok {
				return sb.String()
			}
			sb.Write(chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for %q in shell output, got %q", match, sb.String())
		}
	}
}

func TestConnectWithPassword(t *testing.T) {
	srv := startTestServer(t)

	conn := NewConnection("client-1", 5*time.Second, nil)
	require.False(t, conn.IsConnected())

	err := conn.Connect(context.Background(), srv.Host(), srv.Port(), remotetest.DefaultUser,
		Credential{Password: remotetest.DefaultPassword})
	require.NoError(t, err)
	assert.True(t, conn.IsConnected())

	conn.Disconnect()
	assert.False(t, conn.IsConnected())
}

func TestConnectWrongPassword(t *testing.T) {
	srv := startTestServer(t)

	conn := NewConnection("client-1", 5*time.Second, nil)
	err := conn.Connect(context.Background(), srv.Host(), srv.Port(), remotetest.DefaultUser,
		Credential{Password: "wrong"})
	require.Error(t, err)
	assert.False(t, conn.IsConnected())
}

func TestConnectNoCredentials(t *testing.T) {
	conn := NewConnection("client-1", time.Second, nil)
	err := conn.Connect(context.Background(), "127.0.0.1", 22, "nobody", Credential{})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestConnectWhileConnected(t *testing.T) {
	srv := startTestServer(t)
	conn := connect(t, srv, nil)

	err := conn.Connect(context.Background(), srv.Host(), srv.Port(), remotetest.DefaultUser,
		Credential{Password: remotetest.DefaultPassword})
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestConnectTimeout(t *testing.T) {
	// A listener that accepts and never speaks SSH.
	blackhole, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blackhole.Close()
	go func() {
		for {
			c, err := blackhole.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	_, portStr, _ := net.SplitHostPort(blackhole.Addr().String())
	port := mustAtoi(t, portStr)

	conn := NewConnection("client-1", time.Second, nil)
	start := time.Now()
	err = conn.Connect(context.Background(), "127.0.0.1", port, "nobody",
		Credential{Password: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, conn.IsConnected())
}

func TestConnectRetryAfterFailure(t *testing.T) {
	srv := startTestServer(t)

	conn := NewConnection("client-1", 5*time.Second, nil)
	err := conn.Connect(context.Background(), srv.Host(), srv.Port(), remotetest.DefaultUser,
		Credential{Password: "wrong"})
	require.Error(t, err)

	// The same instance must accept a corrected retry.
	err = conn.Connect(context.Background(), srv.Host(), srv.Port(), remotetest.DefaultUser,
		Credential{Password: remotetest.DefaultPassword})
	require.NoError(t, err)
	assert.True(t, conn.IsConnected())
	conn.Disconnect()
}

func TestShellEcho(t *testing.T) {
	srv := startTestServer(t)
	conn := connect(t, srv, nil)

	shell, err := conn.StartShell("s1", 80, 24)
	require.NoError(t, err)

	require.True(t, conn.WriteToShell("s1", []byte("echo hi\n")))
	out := drainUntil(t, shell, "hi", 5*time.Second)
	assert.Contains(t, out, "hi")
}

func TestStartShellDefaultsAndDuplicate(t *testing.T) {
	srv := startTestServer(t)
	conn := connect(t, srv, nil)

	_, err := conn.StartShell("dup", 0, 0)
	require.NoError(t, err)

	_, err = conn.StartShell("dup", 80, 24)
	assert.ErrorIs(t, err, ErrDuplicateShell)

	// Existing state untouched by the failed attempt.
	assert.Equal(t, []string{"dup"}, conn.ActiveShells())
	assert.True(t, conn.WriteToShell("dup", []byte("still alive\n")))
}

func TestStartShellNotConnected(t *testing.T) {
	conn := NewConnection("client-1", time.Second, nil)
	_, err := conn.StartShell("s1", 80, 24)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestUnknownSessionOperations(t *testing.T) {
	srv := startTestServer(t)
	conn := connect(t, srv, nil)

	assert.False(t, conn.WriteToShell("ghost", []byte("boo")))
	assert.False(t, conn.ResizeShell("ghost", 100, 40))
	assert.False(t, conn.CloseShell("ghost"))
}

func TestCloseShellLeavesSiblingsAlone(t *testing.T) {
	srv := startTestServer(t)
	notifier := newRecordingNotifier()
	conn := connect(t, srv, notifier)

	shellA, err := conn.StartShell("a", 80, 24)
	require.NoError(t, err)
	_, err = conn.StartShell("b", 80, 24)
	require.NoError(t, err)

	require.True(t, conn.CloseShell("a"))

	// a's channel closes; exactly one notification with requested=true.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-shellA.Output():
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return notifier.closedCount("a") == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, notifier.wasRequested("a"))

	// b is untouched.
	assert.Equal(t, []string{"b"}, conn.ActiveShells())
	assert.True(t, conn.WriteToShell("b", []byte("ping\n")))
	assert.Equal(t, 0, notifier.closedCount("b"))
}

func TestShellIDReusableAfterClose(t *testing.T) {
	srv := startTestServer(t)
	conn := connect(t, srv, nil)

	_, err := conn.StartShell("s1", 80, 24)
	require.NoError(t, err)
	require.True(t, conn.CloseShell("s1"))

	// The map entry is removed synchronously, so the id is free right away.
	_, err = conn.StartShell("s1", 80, 24)
	require.NoError(t, err)
}

func TestRemoteInitiatedShellClose(t *testing.T) {
	srv := startTestServer(t)
	notifier := newRecordingNotifier()
	conn := connect(t, srv, notifier)

	_, err := conn.StartShell("s1", 80, 24)
	require.NoError(t, err)

	srv.CloseSessions()

	require.Eventually(t, func() bool {
		return notifier.closedCount("s1") == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, notifier.wasRequested("s1"))
	assert.Empty(t, conn.ActiveShells())
}

func TestDisconnectTearsDownEverything(t *testing.T) {
	srv := startTestServer(t)
	notifier := newRecordingNotifier()
	conn := connect(t, srv, notifier)

	_, err := conn.StartShell("s1", 80, 24)
	require.NoError(t, err)
	_, err = conn.StartShell("s2", 80, 24)
	require.NoError(t, err)

	port := freePort(t)
	echoAddr := startEchoServer(t)
	_, echoPortStr, _ := net.SplitHostPort(echoAddr)
	require.NoError(t, conn.SetupPortForward(port, "127.0.0.1", mustAtoi(t, echoPortStr)))

	conn.Disconnect()

	assert.False(t, conn.IsConnected())
	assert.Empty(t, conn.ActiveShells())
	assert.Empty(t, conn.ActiveForwards())

	// The forward listener must be gone: the port is bindable again.
	require.Eventually(t, func() bool {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", itoa(port)))
		if err != nil {
			return false
		}
		_ = ln.Close()
		return true
	}, 5*time.Second, 50*time.Millisecond)

	// Each shell notified exactly once.
	require.Eventually(t, func() bool {
		return notifier.closedCount("s1") == 1 && notifier.closedCount("s2") == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Explicit disconnect: no ConnectionLost.
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Empty(t, notifier.lostReasons)
}

func TestDisconnectIdempotentAndSafeWhenNeverConnected(t *testing.T) {
	conn := NewConnection("client-1", time.Second, nil)
	conn.Disconnect()
	conn.Disconnect()

	srv := startTestServer(t)
	conn2 := connect(t, srv, nil)
	conn2.Disconnect()
	conn2.Disconnect()
}

func TestConnectionLostOnServerShutdown(t *testing.T) {
	srv := startTestServer(t)
	notifier := newRecordingNotifier()
	conn := connect(t, srv, notifier)

	srv.Close()

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.lostReasons) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, conn.IsConnected())
}
