package remote

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/portside-dev/portside/internal/recovery"
)

// Forward is one local TCP listener bridging accepted connections through
// the SSH client to a remote host:port. Each accepted connection gets its
// own bridge pair; bridges outlive a stopped listener and drain on their
// own (standard listener-close semantics, by contract).
type Forward struct {
	LocalPort  int
	RemoteHost string
	RemotePort int

	listener net.Listener
	stopOnce sync.Once
}

func (f *Forward) stop() {
	f.stopOnce.Do(func() {
		_ = f.listener.Close()
	})
}

// SetupPortForward binds a listener on 127.0.0.1:localPort and bridges each
// accepted connection to remoteHost:remotePort through the SSH connection.
// Fails without partial state on duplicate port, bind failure, or when not
// connected.
func (c *Connection) SetupPortForward(localPort int, remoteHost string, remotePort int) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	if _, exists := c.forwards[localPort]; exists {
		c.mu.RUnlock()
		return fmt.Errorf("%w: %d", ErrDuplicateForward, localPort)
	}
	c.mu.RUnlock()

	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)))
	if err != nil {
		return fmt.Errorf("failed to bind local port %d: %w", localPort, err)
	}

	fwd := &Forward{
		LocalPort:  localPort,
		RemoteHost: remoteHost,
		RemotePort: remotePort,
		listener:   listener,
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		_ = listener.Close()
		return ErrNotConnected
	}
	if _, exists := c.forwards[localPort]; exists {
		c.mu.Unlock()
		_ = listener.Close()
		return fmt.Errorf("%w: %d", ErrDuplicateForward, localPort)
	}
	c.forwards[localPort] = fwd
	c.mu.Unlock()

	remoteAddr := net.JoinHostPort(remoteHost, strconv.Itoa(remotePort))
	recovery.SafeGo(fmt.Sprintf("forward-accept:%s:%d", c.clientID, localPort), func() {
		c.acceptLoop(fwd, remoteAddr)
	})

	c.log.Info().Str("client", c.clientID).Int("local", localPort).Str("remote", remoteAddr).Msg("🔁 port forward opened")
	return nil
}

func (c *Connection) acceptLoop(fwd *Forward, remoteAddr string) {
	for {
		local, err := fwd.listener.Accept()
		if err != nil {
			// Listener closed by StopPortForward or teardown.
			return
		}

		recovery.SafeGo(fmt.Sprintf("forward-bridge:%s:%d", c.clientID, fwd.LocalPort), func() {
			c.bridge(local, remoteAddr)
		})
	}
}

// bridge pipes one accepted local connection to a freshly opened forwarded
// channel for its own lifetime, independent of sibling bridges.
func (c *Connection) bridge(local net.Conn, remoteAddr string) {
	client := c.sshClient()
	if client == nil {
		_ = local.Close()
		return
	}

	remote, err := client.Dial("tcp", remoteAddr)
	if err != nil {
		c.log.Debug().Str("client", c.clientID).Str("remote", remoteAddr).Err(err).Msg("forward dial failed")
		_ = local.Close()
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()

	// Either direction ending tears down both sockets; the second copy
	// then unblocks and the bridge is gone.
	<-done
	_ = local.Close()
	_ = remote.Close()
	<-done
}

// StopPortForward closes the listener and forgets the forward. Idempotent;
// returns whether a forward existed. In-flight bridges keep draining until
// their own ends close.
func (c *Connection) StopPortForward(localPort int) bool {
	c.mu.Lock()
	fwd, exists := c.forwards[localPort]
	if exists {
		delete(c.forwards, localPort)
	}
	c.mu.Unlock()

	if !exists {
		return false
	}
	fwd.stop()
	c.log.Info().Str("client", c.clientID).Int("local", localPort).Msg("🔁 port forward stopped")
	return true
}

// ActiveForwards returns the local ports with live forwards.
func (c *Connection) ActiveForwards() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ports := make([]int, 0, len(c.forwards))
	for port := range c.forwards {
		ports = append(ports, port)
	}
	return ports
}
