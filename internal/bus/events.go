package bus

import (
	"github.com/relaymesh/core/pkg/models"
)

// Each event type below implements BusMessage with a fixed Topic. The set
// is closed: every variant maps to its own topic and any new event added to the runtime
// must be added here and nowhere else.

// HandleIncomingMessage carries a freshly received inbound message from a
// channel adapter into the orchestrator's inbox, already resolved to the
// agent that will handle it.
type HandleIncomingMessage struct {
	Message         models.InboundMessage
	ResolvedAgentID string
}

func (HandleIncomingMessage) busMessage()  {}
func (HandleIncomingMessage) Topic() Topic { return TopicHandleIncomingMessage }

// CancelTask requests that the in-flight orchestrator turn for TraceID be
// aborted at its next cancellation check point.
type CancelTask struct {
	TraceID    string
	SessionKey models.SessionKey
	Reason     string
}

func (CancelTask) busMessage()  {}
func (CancelTask) Topic() Topic { return TopicCancelTask }

// MessageAccepted is published once an inbound message has passed rate
// limiting and been resolved to a configured agent.
type MessageAccepted struct {
	SessionKey models.SessionKey
	TraceID    string
}

func (MessageAccepted) busMessage()  {}
func (MessageAccepted) Topic() Topic { return TopicMessageAccepted }

// ReplyReady carries a finished assistant reply for delivery back out
// through the originating channel.
type ReplyReady struct {
	Outbound models.OutboundMessage
}

func (ReplyReady) busMessage()  {}
func (ReplyReady) Topic() Topic { return TopicReplyReady }

// ActionReady carries a channel-native action (react, edit, delete) for
// delivery, distinct from a text reply.
type ActionReady struct {
	Action models.ChannelAction
}

func (ActionReady) busMessage()  {}
func (ActionReady) Topic() Topic { return TopicActionReady }

// TaskFailed reports that a unit of work (a turn, a scheduled task, a wait
// task) ended in an unrecoverable error.
type TaskFailed struct {
	TraceID    string
	SessionKey models.SessionKey
	TaskKind   string
	Err        string
}

func (TaskFailed) busMessage()  {}
func (TaskFailed) Topic() Topic { return TopicTaskFailed }

// NeedHumanApproval is raised when a tool invocation requires explicit
// human sign-off before it may proceed (e.g. an elevated destructive
// command that the hard baseline does not outright deny).
type NeedHumanApproval struct {
	TraceID    string
	SessionKey models.SessionKey
	ToolName   string
	Reason     string
}

func (NeedHumanApproval) busMessage()  {}
func (NeedHumanApproval) Topic() Topic { return TopicNeedHumanApproval }

// StreamDelta carries an incremental chunk of assistant output for
// consumers that render partial responses as they arrive.
type StreamDelta struct {
	TraceID    string
	SessionKey models.SessionKey
	Delta      string
	IsFinal    bool
}

func (StreamDelta) busMessage()  {}
func (StreamDelta) Topic() Topic { return TopicStreamDelta }

// MemoryWriteRequested asks the memory subsystem to persist a fact or
// episode derived from the current turn.
type MemoryWriteRequested struct {
	SessionKey models.SessionKey
	Speaker    string
	Text       string
	Importance float64
}

func (MemoryWriteRequested) busMessage()  {}
func (MemoryWriteRequested) Topic() Topic { return TopicMemoryWriteRequested }

// MemoryReadRequested asks the memory subsystem for recall relevant to the
// given query ahead of a turn.
type MemoryReadRequested struct {
	SessionKey models.SessionKey
	Query      string
}

func (MemoryReadRequested) busMessage()  {}
func (MemoryReadRequested) Topic() Topic { return TopicMemoryReadRequested }

// ConsolidationCompleted reports that a memory consolidation pass for a
// session has finished.
type ConsolidationCompleted struct {
	SessionKey models.SessionKey
	Summary    string
}

func (ConsolidationCompleted) busMessage()  {}
func (ConsolidationCompleted) Topic() Topic { return TopicConsolidationCompleted }

// RunScheduledConsolidation triggers an out-of-band consolidation pass,
// independent of an active turn.
type RunScheduledConsolidation struct {
	SessionKey models.SessionKey
}

func (RunScheduledConsolidation) busMessage()  {}
func (RunScheduledConsolidation) Topic() Topic { return TopicRunScheduledConsolidation }

// ScheduledTaskTriggered is published by the schedule manager when a
// schedule's due time arrives and a run is about to start. The consumer
// (an orchestrator worker for LLM tasks) is responsible for actually
// running the task and publishing ScheduledTaskCompleted when done; the
// scheduler itself has no LLM dependency.
type ScheduledTaskTriggered struct {
	ScheduleID     string
	AgentID        string
	Task           string
	SessionMode    models.SessionMode
	Delivery       models.Delivery
	TimeoutSeconds int

	SourceChannelType       models.ChannelType
	SourceConnectorID       string
	SourceConversationScope string

	TriggeredAtMs int64
}

func (ScheduledTaskTriggered) busMessage()  {}
func (ScheduledTaskTriggered) Topic() Topic { return TopicScheduledTaskTriggered }

// ScheduledTaskCompleted reports a scheduled task run's outcome back to
// the schedule manager, which clears running_at_ms and computes the
// schedule's next run from it.
type ScheduledTaskCompleted struct {
	ScheduleID  string
	Status      models.ScheduleRunStatus
	Err         string
	StartedAtMs int64
	EndedAtMs   int64
	Response    string
}

func (ScheduledTaskCompleted) busMessage()  {}
func (ScheduledTaskCompleted) Topic() Topic { return TopicScheduledTaskCompleted }

// DeliverAnnounce asks a channel adapter to push an unsolicited message
// (a schedule's announce delivery, a wait task's completion notice) into
// a conversation that did not originate the triggering work.
type DeliverAnnounce struct {
	ChannelType       models.ChannelType
	ConnectorID       string
	ConversationScope string
	Text              string
}

func (DeliverAnnounce) busMessage()  {}
func (DeliverAnnounce) Topic() Topic { return TopicDeliverAnnounce }

// WaitTaskCompleted reports that a polled wait task reached a terminal
// status by polling (success, failure or timeout); cancelling a task
// publishes no WaitTaskCompleted. Message is the
// resolved on_{success,failure,timeout}_message (or a default) for the
// status the task landed in.
type WaitTaskCompleted struct {
	Task    models.WaitTask
	Message string
}

func (WaitTaskCompleted) busMessage()  {}
func (WaitTaskCompleted) Topic() Topic { return TopicWaitTaskCompleted }
