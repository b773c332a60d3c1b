package remote

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-dev/portside/internal/remote/remotetest"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}

func itoa(n int) string { return strconv.Itoa(n) }

// startEchoServer runs a TCP echo server for the test's lifetime and
// returns its address.
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						if _, werr := c.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func readExact(t *testing.T, conn net.Conn, n int) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := conn.Read(buf[read:])
		require.NoError(t, err)
		read += m
	}
	return string(buf)
}

func roundTrip(t *testing.T, addr string, payload string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	return readExact(t, conn, len(payload))
}

func TestPortForwardRoundTrip(t *testing.T) {
	srv := startTestServer(t)
	conn := connect(t, srv, nil)

	echoAddr := startEchoServer(t)
	_, echoPortStr, _ := net.SplitHostPort(echoAddr)
	echoPort := mustAtoi(t, echoPortStr)

	local := freePort(t)
	require.NoError(t, conn.SetupPortForward(local, "127.0.0.1", echoPort))
	assert.Equal(t, []int{local}, conn.ActiveForwards())

	got := roundTrip(t, net.JoinHostPort("127.0.0.1", itoa(local)), "hello through the tunnel")
	assert.Equal(t, "hello through the tunnel", got)
}

func TestPortForwardNotConnected(t *testing.T) {
	conn := NewConnection("client-1", time.Second, nil)
	err := conn.SetupPortForward(freePort(t), "127.0.0.1", 80)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPortForwardDuplicatePort(t *testing.T) {
	srv := startTestServer(t)
	conn := connect(t, srv, nil)

	echoAddr := startEchoServer(t)
	_, echoPortStr, _ := net.SplitHostPort(echoAddr)
	echoPort := mustAtoi(t, echoPortStr)

	local := freePort(t)
	require.NoError(t, conn.SetupPortForward(local, "127.0.0.1", echoPort))

	err := conn.SetupPortForward(local, "127.0.0.1", echoPort)
	assert.ErrorIs(t, err, ErrDuplicateForward)

	// The original forward still works after the rejected duplicate.
	got := roundTrip(t, net.JoinHostPort("127.0.0.1", itoa(local)), "still routed")
	assert.Equal(t, "still routed", got)
}

func TestStopPortForward(t *testing.T) {
	srv := startTestServer(t)
	conn := connect(t, srv, nil)

	echoAddr := startEchoServer(t)
	_, echoPortStr, _ := net.SplitHostPort(echoAddr)
	echoPort := mustAtoi(t, echoPortStr)

	local := freePort(t)
	require.NoError(t, conn.SetupPortForward(local, "127.0.0.1", echoPort))

	assert.True(t, conn.StopPortForward(local))
	assert.Empty(t, conn.ActiveForwards())

	// New connections are refused once the listener is down.
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(local)), 200*time.Millisecond)
		if err != nil {
			return true
		}
		_ = c.Close()
		return false
	}, 5*time.Second, 50*time.Millisecond)

	// Stopping again reports the port as unknown.
	assert.False(t, conn.StopPortForward(local))
}

func TestStopPortForwardLeavesEstablishedBridge(t *testing.T) {
	srv := startTestServer(t)
	conn := connect(t, srv, nil)

	echoAddr := startEchoServer(t)
	_, echoPortStr, _ := net.SplitHostPort(echoAddr)
	echoPort := mustAtoi(t, echoPortStr)

	local := freePort(t)
	require.NoError(t, conn.SetupPortForward(local, "127.0.0.1", echoPort))

	// Open a bridge, then stop the forward while it is live.
	bridged, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(local)), 2*time.Second)
	require.NoError(t, err)
	defer bridged.Close()

	_, err = bridged.Write([]byte("before"))
	require.NoError(t, err)
	assert.Equal(t, "before", readExact(t, bridged, 6))

	assert.True(t, conn.StopPortForward(local))

	// The in-flight connection keeps draining.
	_, err = bridged.Write([]byte("after!"))
	require.NoError(t, err)
	assert.Equal(t, "after!", readExact(t, bridged, 6))
}

func TestPortRebindAfterStop(t *testing.T) {
	srv := startTestServer(t)
	connA := connect(t, srv, nil)
	connB := NewConnection("client-2", 5*time.Second, nil)
	require.NoError(t, connB.Connect(context.Background(), srv.Host(), srv.Port(), remotetest.DefaultUser,
		Credential{Password: remotetest.DefaultPassword}))
	t.Cleanup(connB.Disconnect)

	echoAddr := startEchoServer(t)
	_, echoPortStr, _ := net.SplitHostPort(echoAddr)
	echoPort := mustAtoi(t, echoPortStr)

	local := freePort(t)
	require.NoError(t, connA.SetupPortForward(local, "127.0.0.1", echoPort))

	// While A holds the port the OS refuses B's bind.
	err := connB.SetupPortForward(local, "127.0.0.1", echoPort)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateForward)
	assert.Empty(t, connB.ActiveForwards())

	// Once A releases it, B binds cleanly with no residue from A.
	require.True(t, connA.StopPortForward(local))
	require.Eventually(t, func() bool {
		return connB.SetupPortForward(local, "127.0.0.1", echoPort) == nil
	}, 5*time.Second, 50*time.Millisecond)

	got := roundTrip(t, net.JoinHostPort("127.0.0.1", itoa(local)), "now owned by B")
	assert.Equal(t, "now owned by B", got)
}
