package waittask

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/relaymesh/core/internal/bus"
	"github.com/relaymesh/core/pkg/models"
)

// TickInterval is how often the manager's run loop checks for due tasks.
const TickInterval = 1 * time.Second

// GCAge is how long a terminal-state task is kept before the run loop
// deletes it.
const GCAge = 24 * time.Hour

// CommandTimeout bounds a single check_cmd invocation so a hung poll
// never blocks the next tick indefinitely.
const CommandTimeout = 30 * time.Second

// Manager runs the durable condition-polling background loop: load due
// rows, run their check commands, advance their status, persist.
type Manager struct {
	store  Store
	bus    *bus.Bus
	logger *slog.Logger
	now    func() time.Time

	stop         chan struct{}
	pollObserver func(status string)
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithPollObserver registers a callback invoked after every poll with the
// resulting status, typically backed by an internal/metrics counter.
func WithPollObserver(fn func(status string)) Option {
	return func(m *Manager) { m.pollObserver = fn }
}

// NewManager builds a Manager over store, publishing WaitTaskCompleted
// events to bus as tasks reach a terminal status.
func NewManager(store Store, b *bus.Bus, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		bus:    b,
		logger: logger.With("component", "waittask"),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new wait task.
func (m *Manager) Create(ctx context.Context, task *models.WaitTask) error {
	if task.CreatedAtMs == 0 {
		task.CreatedAtMs = m.now().UnixMilli()
	}
	if task.Status == "" {
		task.Status = models.WaitPending
	}
	return m.store.Create(ctx, task)
}

// Cancel flips task id to Cancelled if it has not already reached a
// terminal status.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.store.Cancel(ctx, id)
}

// Run ticks every TickInterval until ctx is cancelled or Stop is
// called, checking due tasks and garbage-collecting old terminal ones.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// Stop ends a running Run loop.
func (m *Manager) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

func (m *Manager) tick(ctx context.Context) {
	tasks, err := m.store.ListDue(ctx)
	if err != nil {
		m.logger.Error("list due tasks", "error", err)
		return
	}

	now := m.now().UnixMilli()
	for _, task := range tasks {
		if !m.isDue(task, now) {
			continue
		}
		m.check(ctx, task, now)
	}

	if _, err := m.store.Prune(ctx, GCAge); err != nil {
		m.logger.Warn("prune wait tasks", "error", err)
	}
}

// isDue reports whether task is due for another poll: either it has
// never been checked, or at least PollIntervalMs has elapsed since the
// last check.
func (m *Manager) isDue(task *models.WaitTask, nowMs int64) bool {
	if task.LastCheckAtMs == nil {
		return true
	}
	return nowMs-*task.LastCheckAtMs >= task.PollIntervalMs
}

func (m *Manager) check(ctx context.Context, task *models.WaitTask, nowMs int64) {
	if nowMs >= task.TimeoutAtMs {
		m.complete(ctx, task, models.WaitTimeout, defaultMessage(task.OnTimeoutMessage, "wait task timed out"))
		return
	}

	output, exitCode := runCheckCmd(ctx, task.CheckCmd)

	failureCond, err := ParseCondition(task.FailureCondition)
	if err != nil {
		m.logger.Error("parse failure condition", "task", task.ID, "error", err)
		failureCond = Condition{}
	}
	successCond, err := ParseCondition(task.SuccessCondition)
	if err != nil {
		m.logger.Error("parse success condition", "task", task.ID, "error", err)
		return
	}

	switch {
	case task.FailureCondition != "" && failureCond.Match(output, exitCode):
		m.complete(ctx, task, models.WaitFailed, defaultMessage(task.OnFailureMessage, "wait task condition failed"))
	case successCond.Match(output, exitCode):
		m.complete(ctx, task, models.WaitSuccess, defaultMessage(task.OnSuccessMessage, "wait task succeeded"))
	default:
		task.LastCheckAtMs = &nowMs
		task.LastOutput = output
		task.Status = models.WaitRunning
		if err := m.store.Update(ctx, task); err != nil {
			m.logger.Error("update wait task", "task", task.ID, "error", err)
		}
		if m.pollObserver != nil {
			m.pollObserver(string(models.WaitRunning))
		}
	}
}

func (m *Manager) complete(ctx context.Context, task *models.WaitTask, status models.WaitTaskStatus, message string) {
	task.Status = status
	if err := m.store.Update(ctx, task); err != nil {
		m.logger.Error("persist completed wait task", "task", task.ID, "error", err)
	}
	if m.pollObserver != nil {
		m.pollObserver(string(status))
	}
	if m.bus != nil {
		m.bus.Publish(bus.WaitTaskCompleted{Task: *task, Message: message})
	}
}

func defaultMessage(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// runCheckCmd runs cmd via `sh -c`, capturing combined output and exit
// code. A process that cannot start at all is reported as exit code -1
// with the error text as output.
func runCheckCmd(ctx context.Context, cmdText string) (string, int) {
	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdText)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return string(out), exitErr.ExitCode()
	}
	return err.Error(), -1
}
