package models

import "time"

// Assistant event kinds. These double as the envelope type when events are
// forwarded to subscribed gateway clients.
const (
	EventUserInput        = "user_input"
	EventAssistantMessage = "assistant_message"
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventFileChange       = "file_change"
)

// AssistantEvent is one discrete event parsed from a coding assistant's
// session log
// @Description Parsed coding-assistant activity event
type AssistantEvent struct {
	Kind      string                 `json:"kind" example:"tool_call"`
	SessionID string                 `json:"session_id,omitempty" example:"7f0a1b2c"`
	Timestamp time.Time              `json:"timestamp"`
	Text      string                 `json:"text,omitempty"`
	Tool      string                 `json:"tool,omitempty" example:"Edit"`
	ToolInput map[string]interface{} `json:"tool_input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
	File      string                 `json:"file,omitempty" example:"src/app.ts"`
}

// SessionLogEntry mirrors one line of an assistant session JSONL file. Only
// the fields the monitor needs are decoded; Message keeps the raw content
// blocks for per-kind extraction.
type SessionLogEntry struct {
	Type          string                 `json:"type"`
	SessionID     string                 `json:"sessionId"`
	Timestamp     string                 `json:"timestamp"`
	UUID          string                 `json:"uuid"`
	IsMeta        bool                   `json:"isMeta,omitempty"`
	Message       map[string]interface{} `json:"message,omitempty"`
	ToolUseResult interface{}            `json:"toolUseResult,omitempty"`
}

// MonitorSubscribeResponse acknowledges a subscription change.
type MonitorSubscribeResponse struct {
	Success    bool `json:"success"`
	Subscribed bool `json:"subscribed"`
}
