// Package models defines the canonical wire and domain types shared by the
// event bus, orchestrator, router and schedulers. Types here are immutable
// once constructed unless a field comment says otherwise.
package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies the chat transport a message arrived on or is
// destined for. Wire-protocol handling for each is an external concern;
// only the identifier matters to the core.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelIMessage ChannelType = "imessage"
)

// SessionKey is the deterministic four-tuple identity of a conversation.
// Joined with ":" it is stable across process restarts.
type SessionKey struct {
	ChannelType       ChannelType
	ConnectorID       string
	ConversationScope string
	UserScope         string
}

// String renders the canonical "channel:connector:conversation:user" key.
func (k SessionKey) String() string {
	return string(k.ChannelType) + ":" + k.ConnectorID + ":" + k.ConversationScope + ":" + k.UserScope
}

// Attachment is a binary or referenced payload on an inbound/outbound message.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// InboundMessage is produced by an ingress adapter and is immutable thereafter.
type InboundMessage struct {
	TraceID           string       `json:"trace_id"`
	ChannelType       ChannelType  `json:"channel_type"`
	ConnectorID       string       `json:"connector_id"`
	ConversationScope string       `json:"conversation_scope"`
	UserScope         string       `json:"user_scope"`
	Text              string       `json:"text"`
	Timestamp         time.Time    `json:"timestamp"`
	ThreadID          string       `json:"thread_id,omitempty"`
	IsMention         bool         `json:"is_mention,omitempty"`
	MentionTarget     string       `json:"mention_target,omitempty"`
	MessageID         string       `json:"message_id,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
}

// SessionKey derives the deterministic session identity for this inbound.
func (m *InboundMessage) SessionKey() SessionKey {
	return SessionKey{
		ChannelType:       m.ChannelType,
		ConnectorID:       m.ConnectorID,
		ConversationScope: m.ConversationScope,
		UserScope:         m.UserScope,
	}
}

// OutboundMessage is produced by the orchestrator and consumed by egress.
type OutboundMessage struct {
	TraceID           string       `json:"trace_id"`
	ChannelType       ChannelType  `json:"channel_type"`
	ConnectorID       string       `json:"connector_id"`
	ConversationScope string       `json:"conversation_scope"`
	Text              string       `json:"text"`
	Timestamp         time.Time    `json:"timestamp"`
	ReplyTo           string       `json:"reply_to,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
}

// ChannelActionKind enumerates the supported channel side-effects. All four
// are accepted by the core; per-transport support is a transport concern.
type ChannelActionKind string

const (
	ActionReact   ChannelActionKind = "react"
	ActionUnreact ChannelActionKind = "unreact"
	ActionEdit    ChannelActionKind = "edit"
	ActionDelete  ChannelActionKind = "delete"
)

// ChannelAction targets a specific platform-native message in a conversation.
type ChannelAction struct {
	Kind              ChannelActionKind `json:"kind"`
	ChannelType       ChannelType       `json:"channel_type"`
	ConnectorID       string            `json:"connector_id"`
	ConversationScope string            `json:"conversation_scope"`
	MessageID         string            `json:"message_id"`
	Emoji             string            `json:"emoji,omitempty"`
	NewText           string            `json:"new_text,omitempty"`
}

// Role identifies the speaker of an LlmMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentBlockType tags the variant stored in a ContentBlock.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockImage      ContentBlockType = "image"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one element of an LlmMessage's content list. Exactly one
// of the type-specific field groups is populated, matching Type.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// Text block.
	Text string `json:"text,omitempty"`

	// Image block.
	ImageData []byte `json:"image_data,omitempty"`
	ImageMime string `json:"image_mime,omitempty"`

	// ToolUse block. ID is opaque, minted by the provider; the orchestrator
	// treats it only as a match key against the following ToolResult.
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolUseInput json.RawMessage `json:"tool_use_input,omitempty"`

	// ToolResult block.
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResultText  string `json:"tool_result_text,omitempty"`
	ToolResultError bool   `json:"tool_result_is_error,omitempty"`
}

// TextBlock constructs a Text content block.
func TextBlock(text string) ContentBlock { return ContentBlock{Type: BlockText, Text: text} }

// ToolUseBlock constructs a ToolUse content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: id, ToolName: name, ToolUseInput: input}
}

// ToolResultBlock constructs a ToolResult content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResultForID: toolUseID, ToolResultText: content, ToolResultError: isError}
}

// LlmMessage is one turn in the provider-facing conversation.
type LlmMessage struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolDef is immutable after registration with the tool registry.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolOrigin distinguishes builtin tools (no permission declaration,
// bound only by HardBaseline) from external skill-declared tools.
type ToolOrigin string

const (
	OriginBuiltin  ToolOrigin = "builtin"
	OriginExternal ToolOrigin = "external"
)

// Permissions is the capability set an External tool context declares.
// Path entries are glob patterns; network entries are host:port (host may
// be a literal or "*").
type Permissions struct {
	FSRead       []string          `json:"fs_read,omitempty" yaml:"fs_read,omitempty"`
	FSWrite      []string          `json:"fs_write,omitempty" yaml:"fs_write,omitempty"`
	NetworkAllow []string          `json:"network_allow,omitempty" yaml:"network_allow,omitempty"`
	Exec         []string          `json:"exec,omitempty" yaml:"exec,omitempty"`
	Env          []string          `json:"env,omitempty" yaml:"env,omitempty"`
	Services     map[string]string `json:"services,omitempty" yaml:"services,omitempty"`
}

// RecentMessage is a condensed view of prior conversation turns handed to a
// tool context for tools that want conversational awareness.
type RecentMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Session is a conversation addressed by its deterministic key.
type Session struct {
	Key        string    `json:"key"`
	AgentID    string    `json:"agent_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// ScheduleKind tags the ScheduleConfig variant.
type ScheduleKind string

const (
	ScheduleEvery   ScheduleKind = "every"
	ScheduleCron    ScheduleKind = "cron"
	ScheduleAt      ScheduleKind = "at"
	ScheduleDailyAt ScheduleKind = "daily_at"
)

// SessionMode controls whether a scheduled task runs against the agent's
// main session or an isolated throwaway one.
type SessionMode string

const (
	SessionModeIsolated SessionMode = "isolated"
	SessionModeMain     SessionMode = "main"
)

// DeliveryMode controls whether a completed scheduled task's response is
// announced to a chat channel.
type DeliveryMode string

const (
	DeliveryNone     DeliveryMode = "none"
	DeliveryAnnounce DeliveryMode = "announce"
)

// Delivery describes where to announce a scheduled task's result.
type Delivery struct {
	Mode        DeliveryMode `json:"mode" yaml:"mode"`
	ChannelType ChannelType  `json:"channel_type,omitempty" yaml:"channel_type,omitempty"`
	ConnectorID string       `json:"connector_id,omitempty" yaml:"connector_id,omitempty"`
}

// ScheduleConfig is the immutable, user-authored definition of a recurring
// or one-shot trigger. Mutable runtime state lives in ScheduleState. Yaml
// tags mirror the json tags so the same struct round-trips the on-disk
// per-schedule YAML file the schedule manager reads and writes.
type ScheduleConfig struct {
	ScheduleID     string       `json:"schedule_id" yaml:"schedule_id"`
	Enabled        bool         `json:"enabled" yaml:"enabled"`
	Kind           ScheduleKind `json:"kind" yaml:"kind"`
	IntervalMs     int64        `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	AnchorMs       int64        `json:"anchor_ms,omitempty" yaml:"anchor_ms,omitempty"`
	CronExpr       string       `json:"cron_expr,omitempty" yaml:"cron_expr,omitempty"`
	Timezone       string       `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	AtISO8601      string       `json:"at_iso8601,omitempty" yaml:"at_iso8601,omitempty"`
	DailyAtHHMM    string       `json:"daily_at_hhmm,omitempty" yaml:"daily_at_hhmm,omitempty"`
	AgentID        string       `json:"agent_id" yaml:"agent_id"`
	SessionMode    SessionMode  `json:"session_mode" yaml:"session_mode"`
	TaskPrompt     string       `json:"task_prompt" yaml:"task_prompt"`
	TimeoutSeconds int          `json:"timeout_seconds" yaml:"timeout_seconds"`
	DeleteAfterRun bool         `json:"delete_after_run" yaml:"delete_after_run"`
	Delivery       Delivery     `json:"delivery" yaml:"delivery"`

	SourceChannelType       ChannelType `json:"source_channel_type,omitempty" yaml:"source_channel_type,omitempty"`
	SourceConnectorID       string      `json:"source_connector_id,omitempty" yaml:"source_connector_id,omitempty"`
	SourceConversationScope string      `json:"source_conversation_scope,omitempty" yaml:"source_conversation_scope,omitempty"`
}

// ScheduleRunStatus is the outcome recorded for the most recent run.
type ScheduleRunStatus string

const (
	RunStatusOK    ScheduleRunStatus = "ok"
	RunStatusError ScheduleRunStatus = "error"
)

// ScheduleState is the mutable runtime row for a ScheduleConfig.
type ScheduleState struct {
	ScheduleID        string             `json:"schedule_id"`
	NextRunAtMs       *int64             `json:"next_run_at_ms,omitempty"`
	RunningAtMs       *int64             `json:"running_at_ms,omitempty"`
	LastRunAtMs       *int64             `json:"last_run_at_ms,omitempty"`
	LastRunStatus     *ScheduleRunStatus `json:"last_run_status,omitempty"`
	LastError         string             `json:"last_error,omitempty"`
	LastDurationMs    int64              `json:"last_duration_ms,omitempty"`
	ConsecutiveErrors int                `json:"consecutive_errors"`
}

// WaitTaskStatus tracks a WaitTask's monotone lifecycle.
type WaitTaskStatus string

const (
	WaitPending   WaitTaskStatus = "pending"
	WaitRunning   WaitTaskStatus = "running"
	WaitSuccess   WaitTaskStatus = "success"
	WaitFailed    WaitTaskStatus = "failed"
	WaitTimeout   WaitTaskStatus = "timeout"
	WaitCancelled WaitTaskStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer transition.
func (s WaitTaskStatus) IsTerminal() bool {
	switch s {
	case WaitSuccess, WaitFailed, WaitTimeout, WaitCancelled:
		return true
	default:
		return false
	}
}

// WaitTask is a durable condition-polling background job.
type WaitTask struct {
	ID               string         `json:"id"`
	SessionKey       string         `json:"session_key"`
	CheckCmd         string         `json:"check_cmd"`
	SuccessCondition string         `json:"success_condition"`
	FailureCondition string         `json:"failure_condition,omitempty"`
	PollIntervalMs   int64          `json:"poll_interval_ms"`
	TimeoutAtMs      int64          `json:"timeout_at_ms"`
	CreatedAtMs      int64          `json:"created_at_ms"`
	LastCheckAtMs    *int64         `json:"last_check_at_ms,omitempty"`
	Status           WaitTaskStatus `json:"status"`
	OnSuccessMessage string         `json:"on_success_message,omitempty"`
	OnFailureMessage string         `json:"on_failure_message,omitempty"`
	OnTimeoutMessage string         `json:"on_timeout_message,omitempty"`
	LastOutput       string         `json:"last_output,omitempty"`
	Error            string         `json:"error,omitempty"`
}
