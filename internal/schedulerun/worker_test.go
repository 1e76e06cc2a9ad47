package schedulerun

import (
	"context"
	"testing"
	"time"

	"github.com/relaymesh/core/internal/bus"
	"github.com/relaymesh/core/internal/config"
	"github.com/relaymesh/core/internal/orchestrator"
	"github.com/relaymesh/core/pkg/models"
)

type stubTurns struct {
	result  orchestrator.TurnResult
	err     error
	lastReq orchestrator.TurnRequest
}

// waitForSubscriber blocks until the bus has at least one subscriber on
// topic, so a test's Publish is guaranteed to reach a Worker.Run goroutine
// that was just started with `go w.Run(ctx)`.
func waitForSubscriber(t *testing.T, b *bus.Bus, topic bus.Topic) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.SubscriberCount(topic) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for a subscriber on topic %q", topic)
}

func (s *stubTurns) Run(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResult, error) {
	s.lastReq = req
	return s.result, s.err
}

func TestWorkerCompletesOnSuccess(t *testing.T) {
	b := bus.New()
	turns := &stubTurns{result: orchestrator.TurnResult{Outbound: models.OutboundMessage{Text: "done"}}}
	w := New(turns, []config.AgentConfig{{ID: "agent-1", PrimaryModel: "default"}}, b, nil)

	completed := b.Subscribe(bus.TopicScheduledTaskCompleted)
	defer completed.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()
	waitForSubscriber(t, b, bus.TopicScheduledTaskTriggered)

	b.Publish(bus.ScheduledTaskTriggered{
		ScheduleID:  "sched-1",
		AgentID:     "agent-1",
		Task:        "summarize the week",
		SessionMode: models.SessionModeIsolated,
	})

	select {
	case msg := <-completed.C:
		done := msg.(bus.ScheduledTaskCompleted)
		if done.ScheduleID != "sched-1" {
			t.Fatalf("schedule id = %q", done.ScheduleID)
		}
		if done.Status != models.RunStatusOK {
			t.Fatalf("status = %q, want ok", done.Status)
		}
		if done.Response != "done" {
			t.Fatalf("response = %q", done.Response)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ScheduledTaskCompleted")
	}

	if turns.lastReq.Text != "summarize the week" {
		t.Fatalf("turn text = %q", turns.lastReq.Text)
	}
	if turns.lastReq.SessionKey.ConversationScope != "schedule:sched-1" {
		t.Fatalf("isolated session scope = %q", turns.lastReq.SessionKey.ConversationScope)
	}
}

func TestWorkerUnknownAgentErrors(t *testing.T) {
	b := bus.New()
	turns := &stubTurns{}
	w := New(turns, nil, b, nil)

	completed := b.Subscribe(bus.TopicScheduledTaskCompleted)
	defer completed.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	waitForSubscriber(t, b, bus.TopicScheduledTaskTriggered)
	b.Publish(bus.ScheduledTaskTriggered{ScheduleID: "sched-2", AgentID: "missing"})

	select {
	case msg := <-completed.C:
		done := msg.(bus.ScheduledTaskCompleted)
		if done.Status != models.RunStatusError {
			t.Fatalf("status = %q, want error", done.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ScheduledTaskCompleted")
	}
}

func TestWorkerMainSessionUsesSourceScope(t *testing.T) {
	b := bus.New()
	turns := &stubTurns{result: orchestrator.TurnResult{Outbound: models.OutboundMessage{Text: "ok"}}}
	w := New(turns, []config.AgentConfig{{ID: "agent-1"}}, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	completed := b.Subscribe(bus.TopicScheduledTaskCompleted)
	defer completed.Unsubscribe()
	waitForSubscriber(t, b, bus.TopicScheduledTaskTriggered)

	b.Publish(bus.ScheduledTaskTriggered{
		ScheduleID:              "sched-3",
		AgentID:                 "agent-1",
		SessionMode:             models.SessionModeMain,
		SourceChannelType:       models.ChannelTelegram,
		SourceConnectorID:       "conn-1",
		SourceConversationScope: "chat:1",
	})

	<-completed.C

	if turns.lastReq.SessionKey.ChannelType != models.ChannelTelegram {
		t.Fatalf("channel = %q", turns.lastReq.SessionKey.ChannelType)
	}
	if turns.lastReq.SessionKey.ConversationScope != "chat:1" {
		t.Fatalf("conversation scope = %q", turns.lastReq.SessionKey.ConversationScope)
	}
}
