package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaymesh/core/internal/bus"
	"github.com/relaymesh/core/pkg/models"
)

type memStore struct {
	mu      sync.Mutex
	states  map[string]*models.ScheduleState
	history []RunRecord
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]*models.ScheduleState)}
}

func (s *memStore) GetState(ctx context.Context, scheduleID string) (*models.ScheduleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[scheduleID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *memStore) SaveState(ctx context.Context, state *models.ScheduleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.states[state.ScheduleID] = &cp
	return nil
}

func (s *memStore) DeleteState(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, scheduleID)
	return nil
}

func (s *memStore) AppendRunHistory(ctx context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	return nil
}

func writeScheduleConfig(t *testing.T, dir *ConfigDir, cfg models.ScheduleConfig) {
	t.Helper()
	if err := dir.Save(cfg); err != nil {
		t.Fatalf("Save config: %v", err)
	}
}

func TestManagerTriggerAndCompleteOK(t *testing.T) {
	dir, err := NewConfigDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewConfigDir: %v", err)
	}
	writeScheduleConfig(t, dir, models.ScheduleConfig{
		ScheduleID: "sched-1",
		Enabled:    true,
		Kind:       models.ScheduleEvery,
		IntervalMs: 60_000,
		AgentID:    "agent-a",
		TaskPrompt: "say hi",
	})

	store := newMemStore()
	b := bus.New()
	mgr := NewManager(store, dir, b, nil)
	mgr.now = func() time.Time { return time.UnixMilli(0) }

	if err := mgr.LoadAndInitialize(context.Background()); err != nil {
		t.Fatalf("LoadAndInitialize: %v", err)
	}

	sub := b.Subscribe(bus.TopicScheduledTaskTriggered)
	mgr.now = func() time.Time { return time.UnixMilli(60_000) }
	mgr.tick(context.Background())

	select {
	case msg := <-sub.C:
		triggered := msg.(bus.ScheduledTaskTriggered)
		if triggered.ScheduleID != "sched-1" {
			t.Fatalf("unexpected schedule id %s", triggered.ScheduleID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a ScheduledTaskTriggered event")
	}

	mgr.handleCompleted(context.Background(), bus.ScheduledTaskCompleted{
		ScheduleID:  "sched-1",
		Status:      models.RunStatusOK,
		StartedAtMs: 60_000,
		EndedAtMs:   60_500,
	})

	mgr.mu.Lock()
	state := mgr.entries["sched-1"].state
	mgr.mu.Unlock()

	if state.RunningAtMs != nil {
		t.Fatal("expected running_at_ms cleared after completion")
	}
	if state.NextRunAtMs == nil || *state.NextRunAtMs != 120_000 {
		t.Fatalf("expected next run at 120000, got %v", state.NextRunAtMs)
	}
	if state.ConsecutiveErrors != 0 {
		t.Fatalf("expected consecutive_errors reset to 0, got %d", state.ConsecutiveErrors)
	}
}

func TestManagerErrorBackoffDelaysRecurringSchedule(t *testing.T) {
	dir, err := NewConfigDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewConfigDir: %v", err)
	}
	writeScheduleConfig(t, dir, models.ScheduleConfig{
		ScheduleID: "sched-2",
		Enabled:    true,
		Kind:       models.ScheduleEvery,
		IntervalMs: 1_000,
		AgentID:    "agent-a",
		TaskPrompt: "say hi",
	})

	store := newMemStore()
	mgr := NewManager(store, dir, bus.New(), nil)
	mgr.now = func() time.Time { return time.UnixMilli(0) }
	if err := mgr.LoadAndInitialize(context.Background()); err != nil {
		t.Fatalf("LoadAndInitialize: %v", err)
	}

	for i := 1; i <= MaxConsecutiveErrors; i++ {
		mgr.handleCompleted(context.Background(), bus.ScheduledTaskCompleted{
			ScheduleID:  "sched-2",
			Status:      models.RunStatusError,
			Err:         "boom",
			StartedAtMs: int64(i) * 1000,
			EndedAtMs:   int64(i)*1000 + 10,
		})
	}

	mgr.mu.Lock()
	e := mgr.entries["sched-2"]
	mgr.mu.Unlock()

	// The schedule stays enabled because a next run is still computable;
	// its next run is pushed out by the doubled error backoff instead:
	// ended_at (3010) + 30s * 2^(3-1).
	if !e.cfg.Enabled {
		t.Fatal("expected recurring schedule to stay enabled while next run is computable")
	}
	if e.state.ConsecutiveErrors != MaxConsecutiveErrors {
		t.Fatalf("consecutive_errors = %d, want %d", e.state.ConsecutiveErrors, MaxConsecutiveErrors)
	}
	wantNext := int64(3010) + Backoff(MaxConsecutiveErrors)
	if e.state.NextRunAtMs == nil || *e.state.NextRunAtMs != wantNext {
		t.Fatalf("next_run_at_ms = %v, want %d", e.state.NextRunAtMs, wantNext)
	}
}

func TestManagerAutoDisableWhenNoNextRunComputable(t *testing.T) {
	dir, err := NewConfigDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewConfigDir: %v", err)
	}
	writeScheduleConfig(t, dir, models.ScheduleConfig{
		ScheduleID: "sched-bad",
		Enabled:    true,
		Kind:       models.ScheduleCron,
		CronExpr:   "not a cron expr",
		AgentID:    "agent-a",
		TaskPrompt: "say hi",
	})

	store := newMemStore()
	mgr := NewManager(store, dir, bus.New(), nil)
	mgr.now = func() time.Time { return time.UnixMilli(0) }
	if err := mgr.LoadAndInitialize(context.Background()); err != nil {
		t.Fatalf("LoadAndInitialize: %v", err)
	}

	for i := 1; i <= MaxConsecutiveErrors; i++ {
		mgr.handleCompleted(context.Background(), bus.ScheduledTaskCompleted{
			ScheduleID:  "sched-bad",
			Status:      models.RunStatusError,
			Err:         "boom",
			StartedAtMs: int64(i) * 1000,
			EndedAtMs:   int64(i)*1000 + 10,
		})
	}

	mgr.mu.Lock()
	e := mgr.entries["sched-bad"]
	mgr.mu.Unlock()

	if e.cfg.Enabled {
		t.Fatal("expected schedule disabled when no next run is computable")
	}
	if e.state.NextRunAtMs != nil {
		t.Fatal("expected no next run once disabled")
	}
}

func TestManagerOneShotDeleteAfterRun(t *testing.T) {
	dir, err := NewConfigDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewConfigDir: %v", err)
	}
	at := time.UnixMilli(500).UTC().Format(time.RFC3339)
	writeScheduleConfig(t, dir, models.ScheduleConfig{
		ScheduleID:     "sched-3",
		Enabled:        true,
		Kind:           models.ScheduleAt,
		AtISO8601:      at,
		AgentID:        "agent-a",
		TaskPrompt:     "one shot",
		DeleteAfterRun: true,
	})

	store := newMemStore()
	mgr := NewManager(store, dir, bus.New(), nil)
	mgr.now = func() time.Time { return time.UnixMilli(0) }
	if err := mgr.LoadAndInitialize(context.Background()); err != nil {
		t.Fatalf("LoadAndInitialize: %v", err)
	}

	mgr.handleCompleted(context.Background(), bus.ScheduledTaskCompleted{
		ScheduleID:  "sched-3",
		Status:      models.RunStatusOK,
		StartedAtMs: 500,
		EndedAtMs:   600,
	})

	mgr.mu.Lock()
	_, exists := mgr.entries["sched-3"]
	mgr.mu.Unlock()
	if exists {
		t.Fatal("expected one-shot schedule removed after delete_after_run completion")
	}

	if _, err := store.GetState(context.Background(), "sched-3"); err != nil {
		t.Fatalf("GetState: %v", err)
	}
}
