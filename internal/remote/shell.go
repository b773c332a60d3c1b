package remote

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/ssh"

	"github.com/portside-dev/portside/internal/recovery"
)

// shellOutputBuffer bounds how far a shell can run ahead of its consumer
// before the pump blocks. The gateway drains each shell on its own
// goroutine, so blocking here only throttles one shell.
const shellOutputBuffer = 256

// Shell is one interactive pseudo-terminal multiplexed inside a Connection.
// Output is delivered as ordered chunks on Output; the channel is closed
// when the stream ends from either side.
type Shell struct {
	ID string

	conn    *Connection
	session *ssh.Session
	stdin   io.WriteCloser
	output  chan []byte

	cols int
	rows int

	requested atomic.Bool
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// Output returns the ordered stream of terminal output chunks. The channel
// is closed exactly once when the shell ends.
func (s *Shell) Output() <-chan []byte {
	return s.output
}

// CloseRequested reports whether the shell's close was initiated on this
// side. Meaningful once the output channel has closed.
func (s *Shell) CloseRequested() bool {
	return s.requested.Load()
}

// StartShell allocates a PTY-backed shell on the remote host and registers
// it under id. Fails when not connected, when id is already in use, or when
// the remote side refuses the PTY or shell.
func (c *Connection) StartShell(id string, cols, rows int) (*Shell, error) {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return nil, ErrNotConnected
	}
	if _, exists := c.shells[id]; exists {
		c.mu.RUnlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateShell, id)
	}
	client := c.client
	c.mu.RUnlock()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("pty request failed: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	shell := &Shell{
		ID:      id,
		conn:    c,
		session: session,
		stdin:   stdin,
		output:  make(chan []byte, shellOutputBuffer),
		cols:    cols,
		rows:    rows,
	}

	// Insert under lock; the session was created without holding it, so a
	// racing duplicate or a disconnect may have happened meanwhile.
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		_ = session.Close()
		return nil, ErrNotConnected
	}
	if _, exists := c.shells[id]; exists {
		c.mu.Unlock()
		_ = session.Close()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateShell, id)
	}
	c.shells[id] = shell
	c.shellOrder = append(c.shellOrder, id)
	c.mu.Unlock()

	recovery.SafeGo("shell-pump:"+c.clientID+":"+id, func() {
		shell.pump(stdout)
	})

	c.log.Info().Str("client", c.clientID).Str("session", id).Int("cols", cols).Int("rows", rows).Msg("🐚 shell started")
	return shell, nil
}

// pump moves remote output into the shell's channel in arrival order. It is
// the only sender and therefore the only closer of the channel.
func (s *Shell) pump(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.output <- chunk
		}
		if err != nil {
			break
		}
	}
	s.finish()
}

// finish runs the exactly-once close path: map removal, channel close,
// notification. Only the pump calls it, keeping a single closer for the
// output channel.
func (s *Shell) finish() {
	s.closeOnce.Do(func() {
		s.conn.removeShell(s.ID)
		close(s.output)
		s.conn.notifier.ShellClosed(s.ID, s.requested.Load())
	})
}

// terminate initiates a close from this side: the map entry goes away
// synchronously (the id is immediately reusable) and the closed session
// unblocks the pump, which then runs finish.
func (s *Shell) terminate(requested bool) {
	if requested {
		s.requested.Store(true)
	}
	s.conn.removeShell(s.ID)
	_ = s.stdin.Close()
	_ = s.session.Close()
}

func (s *Shell) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.stdin.Write(data)
	return err
}

// removeShell drops the map entry if it still points at a shell with this
// id. Safe to call from multiple close paths.
func (c *Connection) removeShell(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.shells[id]; !exists {
		return
	}
	delete(c.shells, id)
	for i, sid := range c.shellOrder {
		if sid == id {
			c.shellOrder = append(c.shellOrder[:i], c.shellOrder[i+1:]...)
			break
		}
	}
}

// WriteToShell delivers raw bytes to the named shell's stdin. Returns false
// when the session is unknown or the write fails; never an error, so
// callers can report silently.
func (c *Connection) WriteToShell(id string, data []byte) bool {
	c.mu.RLock()
	shell, exists := c.shells[id]
	c.mu.RUnlock()
	if !exists {
		return false
	}
	if err := shell.write(data); err != nil {
		c.log.Debug().Str("client", c.clientID).Str("session", id).Err(err).Msg("shell write failed")
		return false
	}
	return true
}

// ResizeShell updates the PTY window size. Returns false when the session
// is unknown.
func (c *Connection) ResizeShell(id string, cols, rows int) bool {
	c.mu.Lock()
	shell, exists := c.shells[id]
	if exists {
		shell.cols = cols
		shell.rows = rows
	}
	c.mu.Unlock()
	if !exists {
		return false
	}
	if err := shell.session.WindowChange(rows, cols); err != nil {
		c.log.Debug().Str("client", c.clientID).Str("session", id).Err(err).Msg("window change failed")
		return false
	}
	return true
}

// CloseShell closes one shell. The map entry is removed synchronously so
// the id is immediately reusable; the close notification fires exactly once
// via the shell's own close path. Returns whether a shell existed.
func (c *Connection) CloseShell(id string) bool {
	c.mu.RLock()
	shell, exists := c.shells[id]
	c.mu.RUnlock()
	if !exists {
		return false
	}
	shell.terminate(true)
	return true
}

// ActiveShells returns the open shell ids in insertion order. The order is
// informational, not contractual.
func (c *Connection) ActiveShells() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, len(c.shellOrder))
	copy(ids, c.shellOrder)
	return ids
}
