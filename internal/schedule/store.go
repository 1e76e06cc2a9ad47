package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relaymesh/core/pkg/models"
)

// RunRecord is one row of run_history: the outcome of a single trigger
// of a schedule, recorded after ScheduledTaskCompleted arrives.
type RunRecord struct {
	ScheduleID  string
	Status      models.ScheduleRunStatus
	Err         string
	StartedAtMs int64
	EndedAtMs   int64
}

// Store persists ScheduleState rows and a RunRecord history.
type Store interface {
	GetState(ctx context.Context, scheduleID string) (*models.ScheduleState, error)
	SaveState(ctx context.Context, state *models.ScheduleState) error
	DeleteState(ctx context.Context, scheduleID string) error
	AppendRunHistory(ctx context.Context, rec RunRecord) error
}

// SQLiteStore keeps schedule_states and run_history tables in a
// WAL-mode SQLite database, shared-layout with the wait-task store.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) the scheduler database
// at path in WAL mode.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("schedule: open db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schedule_states (
			schedule_id TEXT PRIMARY KEY,
			next_run_at_ms INTEGER,
			running_at_ms INTEGER,
			last_run_at_ms INTEGER,
			last_run_status TEXT,
			last_error TEXT,
			last_duration_ms INTEGER,
			consecutive_errors INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS run_history (
			id TEXT PRIMARY KEY,
			schedule_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			started_at_ms INTEGER NOT NULL,
			ended_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_history_schedule ON run_history(schedule_id, started_at_ms DESC)`,
		`CREATE TABLE IF NOT EXISTS __scheduler_schema_version (version INTEGER NOT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schedule: init schema: %w", err)
		}
	}
	var n int
	if err := s.db.QueryRow(`SELECT count(*) FROM __scheduler_schema_version`).Scan(&n); err != nil {
		return fmt.Errorf("schedule: read schema version: %w", err)
	}
	if n == 0 {
		if _, err := s.db.Exec(`INSERT INTO __scheduler_schema_version(version) VALUES (1)`); err != nil {
			return fmt.Errorf("schedule: seed schema version: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// GetState loads scheduleID's runtime state, or nil if never persisted.
func (s *SQLiteStore) GetState(ctx context.Context, scheduleID string) (*models.ScheduleState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT schedule_id, next_run_at_ms, running_at_ms, last_run_at_ms,
		       last_run_status, last_error, last_duration_ms, consecutive_errors
		FROM schedule_states WHERE schedule_id = ?
	`, scheduleID)

	var (
		id                string
		nextRunAtMs       sql.NullInt64
		runningAtMs       sql.NullInt64
		lastRunAtMs       sql.NullInt64
		lastRunStatus     sql.NullString
		lastError         sql.NullString
		lastDurationMs    sql.NullInt64
		consecutiveErrors int
	)
	if err := row.Scan(&id, &nextRunAtMs, &runningAtMs, &lastRunAtMs, &lastRunStatus, &lastError, &lastDurationMs, &consecutiveErrors); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("schedule: get state: %w", err)
	}

	state := &models.ScheduleState{ScheduleID: id, ConsecutiveErrors: consecutiveErrors, LastError: lastError.String, LastDurationMs: lastDurationMs.Int64}
	if nextRunAtMs.Valid {
		v := nextRunAtMs.Int64
		state.NextRunAtMs = &v
	}
	if runningAtMs.Valid {
		v := runningAtMs.Int64
		state.RunningAtMs = &v
	}
	if lastRunAtMs.Valid {
		v := lastRunAtMs.Int64
		state.LastRunAtMs = &v
	}
	if lastRunStatus.Valid {
		v := models.ScheduleRunStatus(lastRunStatus.String)
		state.LastRunStatus = &v
	}
	return state, nil
}

// SaveState upserts state by schedule_id.
func (s *SQLiteStore) SaveState(ctx context.Context, state *models.ScheduleState) error {
	var lastRunStatus any
	if state.LastRunStatus != nil {
		lastRunStatus = string(*state.LastRunStatus)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_states (
			schedule_id, next_run_at_ms, running_at_ms, last_run_at_ms,
			last_run_status, last_error, last_duration_ms, consecutive_errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(schedule_id) DO UPDATE SET
			next_run_at_ms = excluded.next_run_at_ms,
			running_at_ms = excluded.running_at_ms,
			last_run_at_ms = excluded.last_run_at_ms,
			last_run_status = excluded.last_run_status,
			last_error = excluded.last_error,
			last_duration_ms = excluded.last_duration_ms,
			consecutive_errors = excluded.consecutive_errors
	`, state.ScheduleID, ptrOrNil(state.NextRunAtMs), ptrOrNil(state.RunningAtMs), ptrOrNil(state.LastRunAtMs),
		lastRunStatus, nullIfEmptyStr(state.LastError), state.LastDurationMs, state.ConsecutiveErrors)
	if err != nil {
		return fmt.Errorf("schedule: save state: %w", err)
	}
	return nil
}

// DeleteState removes a schedule's runtime row, used when a one-shot
// schedule with delete_after_run completes successfully.
func (s *SQLiteStore) DeleteState(ctx context.Context, scheduleID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedule_states WHERE schedule_id = ?`, scheduleID); err != nil {
		return fmt.Errorf("schedule: delete state: %w", err)
	}
	return nil
}

// AppendRunHistory records one completed trigger.
func (s *SQLiteStore) AppendRunHistory(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_history (id, schedule_id, status, error, started_at_ms, ended_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), rec.ScheduleID, string(rec.Status), nullIfEmptyStr(rec.Err), rec.StartedAtMs, rec.EndedAtMs)
	if err != nil {
		return fmt.Errorf("schedule: append run history: %w", err)
	}
	return nil
}

func ptrOrNil(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullIfEmptyStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// pruneHistoryOlderThan is exercised by the manager's periodic GC pass;
// exported via Store would widen the interface for a rarely-used path,
// so it is an unexported method on the concrete SQLiteStore only.
func (s *SQLiteStore) pruneHistoryOlderThan(ctx context.Context, d time.Duration) (int64, error) {
	cutoff := time.Now().Add(-d).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_history WHERE started_at_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("schedule: prune run history: %w", err)
	}
	return res.RowsAffected()
}
