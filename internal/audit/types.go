// Package audit provides structured logging for every tool invocation
// the orchestrator dispatches, redacting sensitive input fields and
// recording the permission/hard-baseline decision that gated each call.
package audit

import "time"

// EventType categorizes an audit event.
type EventType string

const (
	EventToolInvocation EventType = "tool.invocation"
	EventToolCompletion EventType = "tool.completion"
	EventToolDenied     EventType = "tool.denied"
)

// Level is the audit log severity.
type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
)

// sensitiveKeys are input field names redacted from input_summary
// regardless of case.
var sensitiveKeys = []string{"password", "secret", "token", "key", "credential", "auth", "api_key"}

// Event is one audit log entry, matching the tool-audit record shape:
// timestamp, tool name, origin, a redacted input summary, the outcome,
// how long it took, and the session/agent it ran under.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Level        Level     `json:"level"`
	Timestamp    time.Time `json:"timestamp"`
	ToolName     string    `json:"tool_name"`
	Origin       string    `json:"origin"`
	InputSummary string    `json:"input_summary,omitempty"`
	Result       string    `json:"result,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	AgentID      string    `json:"agent_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}
