// Package schedulerun consumes ScheduledTaskTriggered events and runs
// each schedule's task prompt as an orchestrator turn. It has no place
// inside internal/orchestrator itself because internal/config already
// imports orchestrator (for WeakReActConfig), and this worker needs both
// the orchestrator's Turns interface and config's AgentConfig map, so it
// lives in its own leaf package wired together at cmd/relaymesh/serve.
package schedulerun

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaymesh/core/internal/bus"
	"github.com/relaymesh/core/internal/config"
	"github.com/relaymesh/core/internal/orchestrator"
	"github.com/relaymesh/core/internal/schedule"
	"github.com/relaymesh/core/pkg/models"
)

// Turns is the subset of *orchestrator.Loop the worker depends on,
// mirrored from the gateway's own Turns interface.
type Turns interface {
	Run(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResult, error)
}

// Worker subscribes to ScheduledTaskTriggered, runs the schedule's task
// prompt as an orchestrator turn, and reports the outcome back via
// ScheduledTaskCompleted so the schedule manager can compute the next
// run. A Delivery.Mode of Announce additionally publishes DeliverAnnounce
// with the turn's reply text.
type Worker struct {
	turns  Turns
	agents map[string]config.AgentConfig
	bus    *bus.Bus
	logger *slog.Logger
	now    func() time.Time

	stop chan struct{}
}

// New builds a Worker over the given agent configs, keyed by AgentID.
func New(turns Turns, agents []config.AgentConfig, b *bus.Bus, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]config.AgentConfig, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	return &Worker{
		turns:  turns,
		agents: byID,
		bus:    b,
		logger: logger.With("component", "schedulerun"),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

// Run consumes ScheduledTaskTriggered events until ctx is cancelled or
// Stop is called. Each trigger is handled synchronously in this
// goroutine: at-most-one-run-in-flight per schedule is the schedule
// manager's invariant (it never triggers a schedule whose running_at_ms
// is already set), not something this consumer enforces.
func (w *Worker) Run(ctx context.Context) {
	sub := w.bus.Subscribe(bus.TopicScheduledTaskTriggered)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case msg := <-sub.C:
			triggered, ok := msg.(bus.ScheduledTaskTriggered)
			if !ok {
				continue
			}
			w.handle(ctx, triggered)
		}
	}
}

// Stop ends a running Run loop.
func (w *Worker) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

func (w *Worker) handle(ctx context.Context, triggered bus.ScheduledTaskTriggered) {
	startedAt := w.now().UnixMilli()

	agent, ok := w.agents[triggered.AgentID]
	if !ok {
		w.complete(triggered, models.RunStatusError, "schedulerun: unknown agent "+triggered.AgentID, startedAt, "")
		return
	}

	sessionKey := w.sessionKeyFor(triggered)

	req := orchestrator.TurnRequest{
		TraceID:        triggered.ScheduleID + ":" + sessionKey.String(),
		AgentID:        agent.ID,
		SessionKey:     sessionKey,
		SystemPrompt:   agent.SystemPrompt,
		Text:           triggered.Task,
		Permissions:    agent.Permissions,
		PrimaryModel:   agent.PrimaryModel,
		FallbackModels: agent.FallbackModels,
	}

	timeoutSeconds := triggered.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = schedule.DefaultTimeoutSeconds
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	result, err := w.turns.Run(runCtx, req)
	if err != nil {
		w.logger.Error("scheduled task failed", "schedule_id", triggered.ScheduleID, "error", err)
		w.complete(triggered, models.RunStatusError, err.Error(), startedAt, "")
		return
	}

	w.complete(triggered, models.RunStatusOK, "", startedAt, result.Outbound.Text)

	if triggered.Delivery.Mode == models.DeliveryAnnounce {
		w.bus.Publish(bus.DeliverAnnounce{
			ChannelType:       triggered.Delivery.ChannelType,
			ConnectorID:       triggered.Delivery.ConnectorID,
			ConversationScope: triggered.SourceConversationScope,
			Text:              result.Outbound.Text,
		})
	}
}

// sessionKeyFor resolves the session a scheduled task runs against: an
// isolated, schedule-private throwaway session, or the agent's live
// main conversation named by the schedule's source fields.
func (w *Worker) sessionKeyFor(triggered bus.ScheduledTaskTriggered) models.SessionKey {
	if triggered.SessionMode == models.SessionModeMain {
		return models.SessionKey{
			ChannelType:       triggered.SourceChannelType,
			ConnectorID:       triggered.SourceConnectorID,
			ConversationScope: triggered.SourceConversationScope,
			UserScope:         triggered.AgentID,
		}
	}
	return models.SessionKey{
		ChannelType:       "schedule",
		ConnectorID:       triggered.ScheduleID,
		ConversationScope: "schedule:" + triggered.ScheduleID,
		UserScope:         triggered.AgentID,
	}
}

func (w *Worker) complete(triggered bus.ScheduledTaskTriggered, status models.ScheduleRunStatus, errText string, startedAt int64, response string) {
	w.bus.Publish(bus.ScheduledTaskCompleted{
		ScheduleID:  triggered.ScheduleID,
		Status:      status,
		Err:         errText,
		StartedAtMs: startedAt,
		EndedAtMs:   w.now().UnixMilli(),
		Response:    response,
	})
}
