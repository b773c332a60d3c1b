package models

import "encoding/json"

// Message type tags carried in the envelope. Request types expecting a
// reply use the request tag plus "_response".
const (
	TypeAuth         = "auth"
	TypeAuthResponse = "auth_response"
	TypeAuthRequired = "auth_required"

	TypeSSHConnect             = "ssh_connect"
	TypeSSHConnectResponse     = "ssh_connect_response"
	TypeSSHStartShell          = "ssh_start_shell"
	TypeSSHShellStarted        = "ssh_shell_started"
	TypeSSHInput               = "ssh_input"
	TypeSSHOutput              = "ssh_output"
	TypeSSHResize              = "ssh_resize"
	TypeSSHCloseShell          = "ssh_close_shell"
	TypeSSHShellClosed         = "ssh_shell_closed"
	TypeSSHListShells          = "ssh_list_shells"
	TypeSSHListShellsResponse  = "ssh_list_shells_response"
	TypeSSHDisconnect          = "ssh_disconnect"
	TypeSSHStatus              = "ssh_status"
	TypeSSHPortForward         = "ssh_port_forward"
	TypeSSHPortForwardResponse = "ssh_port_forward_response"
	TypeSSHStopPortForward     = "ssh_stop_port_forward"
	TypeSSHStopPortForwardResp = "ssh_stop_port_forward_response"

	TypeFileList         = "file_list"
	TypeFileListResponse = "file_list_response"
	TypeFileTree         = "file_tree"
	TypeFileTreeResponse = "file_tree_response"

	TypeSearch         = "search"
	TypeSearchResponse = "search_response"

	TypeGitStatus          = "git_status"
	TypeGitStatusResponse  = "git_status_response"
	TypeGitDiff            = "git_diff"
	TypeGitDiffResponse    = "git_diff_response"
	TypeGitStage           = "git_stage"
	TypeGitStageResponse   = "git_stage_response"
	TypeGitUnstage         = "git_unstage"
	TypeGitUnstageResponse = "git_unstage_response"
	TypeGitDiscard         = "git_discard"
	TypeGitDiscardResponse = "git_discard_response"
	TypeGitCommit          = "git_commit"
	TypeGitCommitResponse  = "git_commit_response"

	TypeMonitorSubscribe           = "monitor_subscribe"
	TypeMonitorSubscribeResponse   = "monitor_subscribe_response"
	TypeMonitorUnsubscribe         = "monitor_unsubscribe"
	TypeMonitorUnsubscribeResponse = "monitor_unsubscribe_response"
)

// SSH connection status values carried by ssh_status messages.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

// Envelope is the single frame format in both directions:
// {type, data?, error?}.
type Envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// NewEnvelope builds an envelope with a marshaled payload. Marshaling
// failures produce an error envelope instead, so callers always have
// something valid to send.
func NewEnvelope(msgType string, payload interface{}) Envelope {
	if payload == nil {
		return Envelope{Type: msgType}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{Type: msgType, Error: "failed to encode payload: " + err.Error()}
	}
	return Envelope{Type: msgType, Data: data}
}

// ErrorEnvelope builds a reply carrying only an error string.
func ErrorEnvelope(msgType string, reason string) Envelope {
	return Envelope{Type: msgType, Error: reason}
}

// Decode unmarshals the envelope payload into out. A nil payload decodes
// into the zero value without error so handlers can rely on defaults.
func (e Envelope) Decode(out interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, out)
}

// AuthRequest authenticates a transport connection.
type AuthRequest struct {
	Token string `json:"token"`
}

// AuthResponse reports the auth outcome. The transport stays open either
// way; clients may retry.
type AuthResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SSHConnectRequest opens the client's remote connection.
type SSHConnectRequest struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	PrivateKey string `json:"privateKey,omitempty"`
	Password   string `json:"password,omitempty"`
}

// SSHConnectResponse reports connect success or the failure reason.
type SSHConnectResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SSHStartShellRequest opens one interactive shell. SessionID defaults to
// "default", cols/rows to 80x24.
type SSHStartShellRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

// SSHShellStarted confirms a shell is live.
type SSHShellStarted struct {
	SessionID string `json:"sessionId"`
}

// SSHInputRequest writes raw bytes to a shell's stdin.
type SSHInputRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Input     string `json:"input"`
}

// SSHOutput carries one ordered chunk of shell output.
type SSHOutput struct {
	SessionID string `json:"sessionId"`
	Output    string `json:"output"`
}

// SSHResizeRequest updates a shell's PTY window size.
type SSHResizeRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// SSHCloseShellRequest closes one shell by id.
type SSHCloseShellRequest struct {
	SessionID string `json:"sessionId"`
}

// SSHShellClosed notifies that a shell ended. Success is set on replies to
// explicit close requests and omitted when the remote side closed first.
type SSHShellClosed struct {
	SessionID string `json:"sessionId"`
	Success   *bool  `json:"success,omitempty"`
}

// SSHListShellsResponse snapshots the open shell ids.
type SSHListShellsResponse struct {
	Shells []string `json:"shells"`
}

// SSHStatus is an unsolicited connection-state notification.
type SSHStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SSHPortForwardRequest opens a local listener bridged to remoteHost:remotePort.
type SSHPortForwardRequest struct {
	LocalPort  int    `json:"localPort"`
	RemoteHost string `json:"remoteHost"`
	RemotePort int    `json:"remotePort"`
}

// SSHPortForwardResponse reports forward setup success per local port.
type SSHPortForwardResponse struct {
	Success   bool   `json:"success"`
	LocalPort int    `json:"localPort"`
	Message   string `json:"message,omitempty"`
}

// SSHStopPortForwardRequest tears down the forward on localPort.
type SSHStopPortForwardRequest struct {
	LocalPort int `json:"localPort"`
}

// SSHStopPortForwardResponse confirms a stop request. Success is false when
// no forward was bound to the port.
type SSHStopPortForwardResponse struct {
	Success   bool `json:"success"`
	LocalPort int  `json:"localPort"`
}
