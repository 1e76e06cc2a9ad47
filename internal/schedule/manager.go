package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymesh/core/internal/bus"
	"github.com/relaymesh/core/pkg/models"
)

// MaxSleep bounds the manager's main-loop wait, so the loop wakes at
// least once a minute even if nothing is due and no
// ScheduledTaskCompleted arrives meanwhile. Schedule configs and state
// are read only by LoadAndInitialize; files or rows changed while Run is
// active are not re-read.
const MaxSleep = 60 * time.Second

// MaxConsecutiveErrors auto-disables a recurring schedule once its
// error streak reaches this count and no next run is computable.
const MaxConsecutiveErrors = 3

// RunHistoryGCAge bounds how long completed run_history rows are kept
// (seven days, longer than the wait-task manager's 24h terminal-state
// retention).
const RunHistoryGCAge = 7 * 24 * time.Hour

// DefaultTimeoutSeconds is a scheduled task run's timeout when the
// schedule's YAML config omits timeout_seconds.
const DefaultTimeoutSeconds = 300

type entry struct {
	cfg   models.ScheduleConfig
	state models.ScheduleState
}

// Manager runs the background trigger loop: durable, SQLite-state-backed,
// decoupled from the LLM by the bus handshake
// ScheduledTaskTriggered/ScheduledTaskCompleted. It only emits and
// records; running the task itself belongs to whoever subscribes to the
// trigger events.
type Manager struct {
	store     Store
	configDir *ConfigDir
	bus       *bus.Bus
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stop        chan struct{}
	runObserver func(scheduleID, status string, duration time.Duration)
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithRunObserver registers a callback invoked after every completed run
// with its schedule id, status and wall-clock duration, typically backed
// by an internal/metrics histogram.
func WithRunObserver(fn func(scheduleID, status string, duration time.Duration)) Option {
	return func(m *Manager) { m.runObserver = fn }
}

// NewManager builds a Manager. Call LoadAndInitialize before Run.
func NewManager(store Store, configDir *ConfigDir, b *bus.Bus, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:     store,
		configDir: configDir,
		bus:       b,
		logger:    logger.With("component", "schedule"),
		now:       time.Now,
		entries:   make(map[string]*entry),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadAndInitialize reads every schedule config from disk and, for
// schedules with no persisted state (first boot) or a stale
// in-flight run (crash recovery), computes next_run_at_ms from now.
func (m *Manager) LoadAndInitialize(ctx context.Context) error {
	configs, err := m.configDir.LoadAll()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	nowMs := m.now().UnixMilli()
	for _, cfg := range configs {
		state, err := m.store.GetState(ctx, cfg.ScheduleID)
		if err != nil {
			return fmt.Errorf("schedule: load state for %s: %w", cfg.ScheduleID, err)
		}
		if state == nil {
			state = &models.ScheduleState{ScheduleID: cfg.ScheduleID}
		}
		// A crash mid-run leaves running_at_ms set forever; clear it so
		// the schedule is eligible to fire again.
		staleRun := state.RunningAtMs != nil
		state.RunningAtMs = nil

		if cfg.Enabled && (state.NextRunAtMs == nil || staleRun) {
			if next, ok, err := NextRun(cfg, nowMs); err != nil {
				m.logger.Error("compute initial next run", "schedule_id", cfg.ScheduleID, "error", err)
			} else if ok {
				state.NextRunAtMs = &next
			}
		}
		if err := m.store.SaveState(ctx, state); err != nil {
			return fmt.Errorf("schedule: persist initial state for %s: %w", cfg.ScheduleID, err)
		}
		m.entries[cfg.ScheduleID] = &entry{cfg: cfg, state: *state}
	}
	return nil
}

// Run drives the main loop until ctx is cancelled or Stop is called.
func (m *Manager) Run(ctx context.Context) {
	sub := m.bus.Subscribe(bus.TopicScheduledTaskCompleted)
	defer sub.Unsubscribe()

	for {
		sleep := m.nextSleep()
		timer := time.NewTimer(sleep)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.stop:
			timer.Stop()
			return
		case msg := <-sub.C:
			timer.Stop()
			if completed, ok := msg.(bus.ScheduledTaskCompleted); ok {
				m.handleCompleted(ctx, completed)
			}
		case <-timer.C:
		}

		m.tick(ctx)
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

func (m *Manager) nextSleep() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMs := m.now().UnixMilli()
	soonest := int64(-1)
	for _, e := range m.entries {
		if !e.cfg.Enabled || e.state.RunningAtMs != nil || e.state.NextRunAtMs == nil {
			continue
		}
		if soonest == -1 || *e.state.NextRunAtMs < soonest {
			soonest = *e.state.NextRunAtMs
		}
	}
	if soonest == -1 {
		return MaxSleep
	}
	sleepMs := soonest - nowMs
	if sleepMs < 0 {
		sleepMs = 0
	}
	d := time.Duration(sleepMs) * time.Millisecond
	if d > MaxSleep {
		d = MaxSleep
	}
	return d
}

// tick fires every due, non-running, enabled schedule.
func (m *Manager) tick(ctx context.Context) {
	nowMs := m.now().UnixMilli()

	m.mu.Lock()
	var due []*entry
	for _, e := range m.entries {
		if e.cfg.Enabled && e.state.RunningAtMs == nil && e.state.NextRunAtMs != nil && *e.state.NextRunAtMs <= nowMs {
			due = append(due, e)
		}
	}
	m.mu.Unlock()

	for _, e := range due {
		m.trigger(ctx, e, nowMs)
	}

	if sqliteStore, ok := m.store.(*SQLiteStore); ok {
		if _, err := sqliteStore.pruneHistoryOlderThan(ctx, RunHistoryGCAge); err != nil {
			m.logger.Warn("prune run history", "error", err)
		}
	}
}

func (m *Manager) trigger(ctx context.Context, e *entry, nowMs int64) {
	m.mu.Lock()
	running := nowMs
	e.state.RunningAtMs = &running
	stateCopy := e.state
	cfg := e.cfg
	m.mu.Unlock()

	if err := m.store.SaveState(ctx, &stateCopy); err != nil {
		m.logger.Error("persist running state", "schedule_id", cfg.ScheduleID, "error", err)
	}

	m.bus.Publish(bus.ScheduledTaskTriggered{
		ScheduleID:              cfg.ScheduleID,
		AgentID:                 cfg.AgentID,
		Task:                    cfg.TaskPrompt,
		SessionMode:             cfg.SessionMode,
		Delivery:                cfg.Delivery,
		TimeoutSeconds:          cfg.TimeoutSeconds,
		SourceChannelType:       cfg.SourceChannelType,
		SourceConnectorID:       cfg.SourceConnectorID,
		SourceConversationScope: cfg.SourceConversationScope,
		TriggeredAtMs:           nowMs,
	})
}

func (m *Manager) handleCompleted(ctx context.Context, completed bus.ScheduledTaskCompleted) {
	m.mu.Lock()
	e, ok := m.entries[completed.ScheduleID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("completion for unknown schedule", "schedule_id", completed.ScheduleID)
		return
	}
	cfg := e.cfg
	m.mu.Unlock()

	if err := m.store.AppendRunHistory(ctx, RunRecord{
		ScheduleID:  completed.ScheduleID,
		Status:      completed.Status,
		Err:         completed.Err,
		StartedAtMs: completed.StartedAtMs,
		EndedAtMs:   completed.EndedAtMs,
	}); err != nil {
		m.logger.Error("append run history", "schedule_id", completed.ScheduleID, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e.state.RunningAtMs = nil
	e.state.LastRunAtMs = &completed.EndedAtMs
	status := completed.Status
	e.state.LastRunStatus = &status
	e.state.LastError = completed.Err
	e.state.LastDurationMs = completed.EndedAtMs - completed.StartedAtMs

	if m.runObserver != nil {
		m.runObserver(completed.ScheduleID, string(completed.Status), time.Duration(e.state.LastDurationMs)*time.Millisecond)
	}

	if completed.Status == models.RunStatusOK {
		e.state.ConsecutiveErrors = 0
	} else {
		e.state.ConsecutiveErrors++
	}

	m.resolveNextRun(ctx, e, cfg, completed)

	if err := m.store.SaveState(ctx, &e.state); err != nil {
		m.logger.Error("persist completed state", "schedule_id", cfg.ScheduleID, "error", err)
	}
}

// resolveNextRun computes the schedule's next fire time after a
// completed run. Caller holds m.mu.
func (m *Manager) resolveNextRun(ctx context.Context, e *entry, cfg models.ScheduleConfig, completed bus.ScheduledTaskCompleted) {
	if cfg.Kind == models.ScheduleAt {
		if completed.Status == models.RunStatusOK && cfg.DeleteAfterRun {
			m.deleteSchedule(ctx, cfg)
			return
		}
		m.disable(e)
		return
	}

	normalNext, ok, err := NextRun(cfg, completed.EndedAtMs)
	if err != nil {
		m.logger.Error("compute next run", "schedule_id", cfg.ScheduleID, "error", err)
		ok = false
	}
	if !ok {
		e.state.NextRunAtMs = nil
		if e.state.ConsecutiveErrors >= MaxConsecutiveErrors {
			m.logger.Warn("auto-disabling schedule after repeated errors", "schedule_id", cfg.ScheduleID, "consecutive_errors", e.state.ConsecutiveErrors)
			m.disable(e)
		}
		return
	}

	next := normalNext
	if completed.Status != models.RunStatusOK {
		backoffAt := completed.EndedAtMs + Backoff(e.state.ConsecutiveErrors)
		if backoffAt > next {
			next = backoffAt
		}
	}

	e.state.NextRunAtMs = &next
}

func (m *Manager) disable(e *entry) {
	e.cfg.Enabled = false
	e.state.NextRunAtMs = nil
	if m.configDir != nil {
		if err := m.configDir.Save(e.cfg); err != nil {
			m.logger.Error("persist disabled config", "schedule_id", e.cfg.ScheduleID, "error", err)
		}
	}
}

// deleteSchedule removes a completed one-shot schedule's config file,
// persisted state and in-memory entry entirely. Caller holds m.mu.
func (m *Manager) deleteSchedule(ctx context.Context, cfg models.ScheduleConfig) {
	if err := m.configDir.Delete(cfg.ScheduleID); err != nil {
		m.logger.Error("delete schedule config", "schedule_id", cfg.ScheduleID, "error", err)
	}
	if err := m.store.DeleteState(ctx, cfg.ScheduleID); err != nil {
		m.logger.Error("delete schedule state", "schedule_id", cfg.ScheduleID, "error", err)
	}
	delete(m.entries, cfg.ScheduleID)
}
