package waittask

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaymesh/core/internal/bus"
	"github.com/relaymesh/core/pkg/models"
)

// memStore is a minimal in-memory Store for exercising Manager without a
// real SQLite file.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]*models.WaitTask
}

func newMemStore() *memStore { return &memStore{tasks: make(map[string]*models.WaitTask)} }

func (s *memStore) Create(ctx context.Context, t *models.WaitTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *memStore) Update(ctx context.Context, t *models.WaitTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*models.WaitTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) ListDue(ctx context.Context) ([]*models.WaitTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WaitTask
	for _, t := range s.tasks {
		if t.Status == models.WaitPending || t.Status == models.WaitRunning {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok && !t.Status.IsTerminal() {
		t.Status = models.WaitCancelled
	}
	return nil
}

func (s *memStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func TestConditionGrammar(t *testing.T) {
	cases := []struct {
		raw      string
		output   string
		exitCode int
		want     bool
	}{
		{"contains:hello", "say hello world", 0, true},
		{"contains:hello", "goodbye", 0, false},
		{"equals:ok", "ok\n", 0, true},
		{"equals:ok", "not ok", 0, false},
		{"regex:^[0-9]+$", "12345", 0, true},
		{"exit:0", "", 0, true},
		{"exit:1", "", 0, false},
		{"bare substring", "a bare substring match", 0, true},
	}
	for _, c := range cases {
		cond, err := ParseCondition(c.raw)
		if err != nil {
			t.Fatalf("ParseCondition(%q): %v", c.raw, err)
		}
		if got := cond.Match(c.output, c.exitCode); got != c.want {
			t.Errorf("Match(%q, %q, %d) = %v, want %v", c.raw, c.output, c.exitCode, got, c.want)
		}
	}
}

// A check command whose output matches the success condition completes
// the task within the first poll.
func TestManagerWaitTaskSuccess(t *testing.T) {
	store := newMemStore()
	b := bus.New()
	sub := b.Subscribe(bus.TopicWaitTaskCompleted)

	mgr := NewManager(store, b, nil)
	now := time.Now().UnixMilli()

	task := &models.WaitTask{
		ID:               "wt-1",
		SessionKey:       "telegram:c1:chat:1:user:1",
		CheckCmd:         "echo hello",
		SuccessCondition: "contains:hello",
		PollIntervalMs:   1000,
		TimeoutAtMs:      now + 60_000,
		CreatedAtMs:      now,
	}
	if err := mgr.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mgr.tick(context.Background())

	select {
	case msg := <-sub.C:
		completed, ok := msg.(bus.WaitTaskCompleted)
		if !ok {
			t.Fatalf("unexpected bus message type %T", msg)
		}
		if completed.Task.Status != models.WaitSuccess {
			t.Fatalf("expected status success, got %v", completed.Task.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a WaitTaskCompleted event")
	}

	stored, err := store.Get(context.Background(), "wt-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != models.WaitSuccess {
		t.Fatalf("expected persisted status success, got %v", stored.Status)
	}
}

func TestManagerTimeout(t *testing.T) {
	store := newMemStore()
	b := bus.New()
	sub := b.Subscribe(bus.TopicWaitTaskCompleted)
	mgr := NewManager(store, b, nil)

	now := time.Now().UnixMilli()
	task := &models.WaitTask{
		ID:               "wt-2",
		CheckCmd:         "echo nope",
		SuccessCondition: "contains:never-matches",
		PollIntervalMs:   1000,
		TimeoutAtMs:      now - 1,
		CreatedAtMs:      now - 1000,
	}
	if err := mgr.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	mgr.tick(context.Background())

	select {
	case msg := <-sub.C:
		completed := msg.(bus.WaitTaskCompleted)
		if completed.Task.Status != models.WaitTimeout {
			t.Fatalf("expected timeout, got %v", completed.Task.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a WaitTaskCompleted timeout event")
	}
}

func TestManagerCancelIsTerminal(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store, bus.New(), nil)
	task := &models.WaitTask{ID: "wt-3", CheckCmd: "true", SuccessCondition: "exit:0", PollIntervalMs: 1000, TimeoutAtMs: time.Now().Add(time.Minute).UnixMilli()}
	if err := mgr.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mgr.Cancel(context.Background(), "wt-3"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	stored, _ := store.Get(context.Background(), "wt-3")
	if stored.Status != models.WaitCancelled {
		t.Fatalf("expected cancelled, got %v", stored.Status)
	}

	due, err := store.ListDue(context.Background())
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("cancelled task should not be due, got %d", len(due))
	}
}
