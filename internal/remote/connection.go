package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/portside-dev/portside/internal/logger"
	"github.com/portside-dev/portside/internal/recovery"
)

const keepaliveInterval = 30 * time.Second

// Credential carries one of the two supported SSH auth inputs. Both may be
// set; the key is tried first.
type Credential struct {
	Password   string
	PrivateKey string // PEM encoded
}

// Notifier receives asynchronous connection events. Implementations must
// hand off quickly and never block: calls happen on shell pump and
// keepalive goroutines.
type Notifier interface {
	// ShellClosed fires exactly once per shell when its stream ends.
	// requested is true when the close was initiated on this side.
	ShellClosed(sessionID string, requested bool)

	// ConnectionLost fires when the remote side drops an established
	// connection (network failure, server shutdown, keepalive timeout).
	// It does not fire on explicit Disconnect.
	ConnectionLost(reason string)
}

// NopNotifier discards all events. Useful for tests and for connections
// nobody observes.
type NopNotifier struct{}

func (NopNotifier) ShellClosed(string, bool) {}
func (NopNotifier) ConnectionLost(string)    {}

// Connection owns one authenticated SSH session to one remote host and
// multiplexes interactive shells and local port forwards over it. One
// instance belongs to exactly one gateway client; the maps are still
// mutex-guarded because shell pumps, accept loops and the keepalive ticker
// are separate goroutines.
type Connection struct {
	clientID string
	timeout  time.Duration
	notifier Notifier
	log      zerolog.Logger

	mu         sync.RWMutex
	client     *ssh.Client
	connected  bool
	connecting bool
	host       string
	shells     map[string]*Shell
	shellOrder []string
	forwards   map[int]*Forward
	keepStop   chan struct{}
}

// NewConnection creates an unconnected Connection for one client identity.
// A nil notifier is replaced with NopNotifier.
func NewConnection(clientID string, timeout time.Duration, notifier Notifier) *Connection {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Connection{
		clientID: clientID,
		timeout:  timeout,
		notifier: notifier,
		log:      logger.WithComponent("remote"),
		shells:   make(map[string]*Shell),
		forwards: make(map[int]*Forward),
	}
}

// Connect performs the SSH handshake. Only one attempt may be in flight per
// instance; the handshake is bounded by the configured timeout (30s
// default) and by ctx. On failure the connection stays unconnected and may
// be retried.
func (c *Connection) Connect(ctx context.Context, host string, port int, username string, cred Credential) error {
	auth, err := authMethods(cred)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.connecting {
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.connecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.timeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	// The handshake deadline is a protocol contract, so it is enforced
	// here as well as in the dialer.
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, cfg)
		done <- dialResult{client, err}
	}()

	var client *ssh.Client
	select {
	case <-dialCtx.Done():
		// The dial goroutine finishes against its own timeout; close
		// whatever it produces.
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		if ctx.Err() != nil {
			return fmt.Errorf("connect to %s canceled: %w", addr, ctx.Err())
		}
		return fmt.Errorf("connect to %s timed out after %s", addr, c.timeout)
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("ssh connect to %s failed: %w", addr, r.err)
		}
		client = r.client
	}

	stop := make(chan struct{})

	c.mu.Lock()
	c.client = client
	c.connected = true
	c.host = addr
	c.keepStop = stop
	c.mu.Unlock()

	c.log.Info().Str("client", c.clientID).Str("addr", addr).Str("user", username).Msg("🔌 SSH connection established")

	recovery.SafeGo("ssh-keepalive:"+c.clientID, func() {
		c.keepaliveLoop(client, stop)
	})
	recovery.SafeGo("ssh-waiter:"+c.clientID, func() {
		err := client.Wait()
		reason := "connection closed by remote host"
		if err != nil {
			reason = err.Error()
		}
		c.remoteClosed(reason)
	})

	return nil
}

func authMethods(cred Credential) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cred.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(cred.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cred.Password != "" {
		methods = append(methods, ssh.Password(cred.Password))
	}
	if len(methods) == 0 {
		return nil, ErrNoCredentials
	}
	return methods, nil
}

func (c *Connection) keepaliveLoop(client *ssh.Client, stop chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.remoteClosed(fmt.Sprintf("keepalive failed: %v", err))
				return
			}
		case <-stop:
			return
		}
	}
}

// IsConnected reports whether the SSH session is established.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Disconnect tears everything down: every shell (each firing its one close
// notification), every forward listener, then the SSH client. Idempotent
// and safe on a never-connected instance.
func (c *Connection) Disconnect() {
	if c.teardown(true) {
		c.log.Info().Str("client", c.clientID).Msg("🛑 SSH connection closed")
	}
}

// remoteClosed handles an unsolicited close from the remote side.
func (c *Connection) remoteClosed(reason string) {
	if c.teardown(false) {
		c.log.Warn().Str("client", c.clientID).Str("reason", reason).Msg("⚠️ SSH connection lost")
		c.notifier.ConnectionLost(reason)
	}
}

// teardown returns true if it found a connection to tear down. requested
// marks shell-close notifications as locally initiated.
func (c *Connection) teardown(requested bool) bool {
	c.mu.Lock()
	if !c.connected && c.client == nil {
		c.mu.Unlock()
		return false
	}
	client := c.client
	c.client = nil
	c.connected = false

	shells := make([]*Shell, 0, len(c.shells))
	for _, sh := range c.shells {
		shells = append(shells, sh)
	}
	c.shells = make(map[string]*Shell)
	c.shellOrder = nil

	forwards := make([]*Forward, 0, len(c.forwards))
	for _, f := range c.forwards {
		forwards = append(forwards, f)
	}
	c.forwards = make(map[int]*Forward)

	stop := c.keepStop
	c.keepStop = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, sh := range shells {
		sh.terminate(requested)
	}
	for _, f := range forwards {
		f.stop()
	}
	if client != nil {
		_ = client.Close()
	}
	return true
}

// sshClient returns the live client or nil.
func (c *Connection) sshClient() *ssh.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return nil
	}
	return c.client
}
