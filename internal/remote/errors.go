package remote

import "errors"

var (
	// ErrNotConnected is returned by operations requiring a live SSH
	// connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect on a live connection.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrConnectInProgress is returned when a second Connect races an
	// unfinished handshake on the same connection.
	ErrConnectInProgress = errors.New("connect already in progress")

	// ErrDuplicateShell is returned when a shell id is already in use.
	ErrDuplicateShell = errors.New("shell session id already in use")

	// ErrDuplicateForward is returned when a local port already has a
	// forward bound on this connection.
	ErrDuplicateForward = errors.New("local port already forwarded")

	// ErrNoCredentials is returned when neither a password nor a private
	// key was supplied.
	ErrNoCredentials = errors.New("no credentials provided")
)
