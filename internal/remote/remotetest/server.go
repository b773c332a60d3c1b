// Package remotetest provides an in-process SSH server for exercising the
// remote connection layer without external daemons. Sessions echo their
// input; direct-tcpip channels dial their real targets so port-forward
// tests can run against local listeners.
package remotetest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
)

const (
	// DefaultUser and DefaultPassword are accepted by a fresh Server.
	DefaultUser     = "testuser"
	DefaultPassword = "testpass"
)

// Server is a minimal in-process sshd.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig

	mu       sync.Mutex
	sessions []ssh.Channel
	conns    []net.Conn
	closed   bool
}

// NewServer starts an sshd on 127.0.0.1:0 accepting DefaultUser with
// DefaultPassword or any key.
func NewServer() (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to build host signer: %w", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == DefaultUser && string(password) == DefaultPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied for %s", meta.User())
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() == DefaultUser {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied for %s", meta.User())
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := &Server{listener: listener, config: config}
	go s.acceptLoop()
	return s, nil
}

// Addr returns host:port of the server.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.Addr())
	port, _ := strconv.Atoi(portStr)
	return port
}

// Close stops the listener and drops every connection and session.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := s.conns
	sessions := s.sessions
	s.mu.Unlock()

	_ = s.listener.Close()
	for _, ch := range sessions {
		_ = ch.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
}

// CloseSessions closes every open session channel, simulating the remote
// side ending the shells while the connection stays up.
func (s *Server) CloseSessions() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = nil
	s.mu.Unlock()
	for _, ch := range sessions {
		_ = ch.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		_ = conn.Close()
		return
	}
	defer serverConn.Close()

	// Keepalive requests want replies; DiscardRequests provides them.
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			s.handleSession(newChannel)
		case "direct-tcpip":
			s.handleDirectTCPIP(newChannel)
		default:
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

func (s *Server) handleSession(newChannel ssh.NewChannel) {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}

	s.mu.Lock()
	s.sessions = append(s.sessions, channel)
	s.mu.Unlock()

	go func() {
		for req := range requests {
			switch req.Type {
			case "pty-req", "env", "window-change":
				if req.WantReply {
					_ = req.Reply(true, nil)
				}
			case "shell":
				if req.WantReply {
					_ = req.Reply(true, nil)
				}
				// Echo everything back until the channel closes.
				go func() {
					_, _ = io.Copy(channel, channel)
					_ = channel.Close()
				}()
			default:
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
			}
		}
	}()
}

// directTCPIPMsg is the RFC 4254 §7.2 channel-open payload.
type directTCPIPMsg struct {
	DestAddr string
	DestPort uint32
	OrigAddr string
	OrigPort uint32
}

func (s *Server) handleDirectTCPIP(newChannel ssh.NewChannel) {
	var msg directTCPIPMsg
	if err := ssh.Unmarshal(newChannel.ExtraData(), &msg); err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, "bad direct-tcpip payload")
		return
	}

	target, err := net.Dial("tcp", net.JoinHostPort(msg.DestAddr, strconv.Itoa(int(msg.DestPort))))
	if err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, err.Error())
		return
	}

	channel, requests, err := newChannel.Accept()
	if err != nil {
		_ = target.Close()
		return
	}
	go ssh.DiscardRequests(requests)

	go func() {
		defer func() {
			_ = channel.Close()
			_ = target.Close()
		}()
		done := make(chan struct{}, 2)
		go func() {
			_, _ = io.Copy(target, channel)
			done <- struct{}{}
		}()
		go func() {
			_, _ = io.Copy(channel, target)
			done <- struct{}{}
		}()
		<-done
	}()
}
