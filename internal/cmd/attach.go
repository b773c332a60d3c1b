package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/portside-dev/portside/internal/models"
)

// detachKey is Ctrl-], the telnet escape. Pressing it ends the attach
// session without killing the remote shell's host connection server-side.
const detachKey = 0x1d

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "🖥️  Open an interactive shell through a running gateway",
	Long: `# 🖥️ Attach

**Open a remote shell in your terminal** via a portside gateway. The
gateway dials the SSH host on your behalf; this command only speaks the
gateway's WebSocket protocol.

Press **Ctrl-]** to detach.`,
	RunE: runAttach,
}

var (
	attachServer   string
	attachToken    string
	attachHost     string
	attachPort     int
	attachUser     string
	attachPassword string
	attachKeyPath  string
	attachSession  string
)

func init() {
	attachCmd.Flags().StringVarP(&attachServer, "server", "s", "http://127.0.0.1:8080", "Gateway base URL")
	attachCmd.Flags().StringVarP(&attachToken, "token", "t", "", "Gateway auth token")
	attachCmd.Flags().StringVarP(&attachHost, "host", "H", "", "SSH host to connect to (required)")
	attachCmd.Flags().IntVarP(&attachPort, "port", "p", 22, "SSH port")
	attachCmd.Flags().StringVarP(&attachUser, "user", "u", os.Getenv("USER"), "SSH username")
	attachCmd.Flags().StringVar(&attachPassword, "password", "", "SSH password (prompted when no key or password given)")
	attachCmd.Flags().StringVarP(&attachKeyPath, "key", "k", "", "Path to a PEM private key")
	attachCmd.Flags().StringVar(&attachSession, "session", "default", "Shell session id")
	_ = attachCmd.MarkFlagRequired("host")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("attach needs an interactive terminal")
	}

	var privateKey string
	if attachKeyPath != "" {
		data, err := os.ReadFile(attachKeyPath)
		if err != nil {
			return fmt.Errorf("failed to read key %s: %w", attachKeyPath, err)
		}
		privateKey = string(data)
	}
	if privateKey == "" && attachPassword == "" {
		fmt.Fprintf(os.Stderr, "%s@%s's password: ", attachUser, attachHost)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		attachPassword = string(pw)
	}

	conn, err := dialGateway(attachServer)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := authenticate(conn, attachToken); err != nil {
		return err
	}
	if err := sshConnect(conn, privateKey); err != nil {
		return err
	}

	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		cols, rows = 80, 24
	}
	if err := sendEnvelope(conn, models.NewEnvelope(models.TypeSSHStartShell,
		models.SSHStartShellRequest{SessionID: attachSession, Cols: cols, Rows: rows})); err != nil {
		return err
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	done := make(chan error, 1)
	writes := make(chan models.Envelope, 32)

	// Single websocket writer; stdin and winch feed it through a channel.
	go func() {
		for env := range writes {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}()

	go readStdin(writes, done)
	go watchResize(writes)
	go readGateway(conn, done)

	err = <-done
	_ = term.Restore(int(os.Stdin.Fd()), oldState)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "\ndetached")
	return nil
}

func dialGateway(baseURL string) (*websocket.Conn, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("bad server URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/v1/gateway"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to reach gateway at %s: %w", u.String(), err)
	}
	return conn, nil
}

func authenticate(conn *websocket.Conn, token string) error {
	if err := sendEnvelope(conn, models.NewEnvelope(models.TypeAuth,
		models.AuthRequest{Token: token})); err != nil {
		return err
	}

	env, err := readEnvelope(conn)
	if err != nil {
		return err
	}
	var resp models.AuthResponse
	if err := env.Decode(&resp); err != nil || !resp.Success {
		return fmt.Errorf("gateway rejected auth: %s", resp.Message)
	}
	return nil
}

func sshConnect(conn *websocket.Conn, privateKey string) error {
	if err := sendEnvelope(conn, models.NewEnvelope(models.TypeSSHConnect,
		models.SSHConnectRequest{
			Host:       attachHost,
			Port:       attachPort,
			Username:   attachUser,
			Password:   attachPassword,
			PrivateKey: privateKey,
		})); err != nil {
		return err
	}

	// The connect handshake may take up to the server's timeout; anything
	// arriving before the response (status frames) is skipped.
	for {
		env, err := readEnvelope(conn)
		if err != nil {
			return err
		}
		if env.Type != models.TypeSSHConnectResponse {
			continue
		}
		var resp models.SSHConnectResponse
		if err := env.Decode(&resp); err != nil {
			return fmt.Errorf("malformed connect response: %w", err)
		}
		if !resp.Success {
			return fmt.Errorf("ssh connect failed: %s", resp.Message)
		}
		return nil
	}
}

func readStdin(writes chan<- models.Envelope, done chan<- error) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			done <- nil
			return
		}
		for i := 0; i < n; i++ {
			if buf[i] == detachKey {
				done <- nil
				return
			}
		}
		writes <- models.NewEnvelope(models.TypeSSHInput,
			models.SSHInputRequest{SessionID: attachSession, Input: string(buf[:n])})
	}
}

func watchResize(writes chan<- models.Envelope) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	for range winch {
		cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			continue
		}
		writes <- models.NewEnvelope(models.TypeSSHResize,
			models.SSHResizeRequest{SessionID: attachSession, Cols: cols, Rows: rows})
	}
}

func readGateway(conn *websocket.Conn, done chan<- error) {
	for {
		env, err := readEnvelope(conn)
		if err != nil {
			done <- fmt.Errorf("gateway connection lost: %w", err)
			return
		}

		switch env.Type {
		case models.TypeSSHOutput:
			var out models.SSHOutput
			if err := env.Decode(&out); err == nil {
				_, _ = os.Stdout.WriteString(out.Output)
			}
		case models.TypeSSHShellClosed:
			done <- nil
			return
		case models.TypeSSHStatus:
			var st models.SSHStatus
			if err := env.Decode(&st); err == nil && st.Status == models.StatusDisconnected {
				done <- fmt.Errorf("remote connection lost: %s", st.Message)
				return
			}
		}
	}
}

func sendEnvelope(conn *websocket.Conn, env models.Envelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("gateway write failed: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return nil
}

func readEnvelope(conn *websocket.Conn) (models.Envelope, error) {
	var env models.Envelope
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("malformed gateway frame: %w", err)
	}
	return env, nil
}
