package waittask

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relaymesh/core/pkg/models"
)

// Store persists WaitTask rows, indexed by session_key and status.
type Store interface {
	Create(ctx context.Context, task *models.WaitTask) error
	Update(ctx context.Context, task *models.WaitTask) error
	Get(ctx context.Context, id string) (*models.WaitTask, error)
	ListDue(ctx context.Context) ([]*models.WaitTask, error)
	Cancel(ctx context.Context, id string) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteStore keeps a `wait_tasks` table in a WAL-mode SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) the wait_tasks database
// at path, in WAL mode.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("waittask: open db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS wait_tasks (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			check_cmd TEXT NOT NULL,
			success_condition TEXT NOT NULL,
			failure_condition TEXT,
			poll_interval_ms INTEGER NOT NULL,
			timeout_at_ms INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL,
			last_check_at_ms INTEGER,
			status TEXT NOT NULL,
			on_success_message TEXT,
			on_failure_message TEXT,
			on_timeout_message TEXT,
			last_output TEXT,
			error TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("waittask: create table: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_wait_tasks_session ON wait_tasks(session_key)",
		"CREATE INDEX IF NOT EXISTS idx_wait_tasks_status ON wait_tasks(status)",
	} {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("waittask: create index: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create inserts task, minting an ID if it does not already have one.
func (s *SQLiteStore) Create(ctx context.Context, task *models.WaitTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.WaitPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wait_tasks (
			id, session_key, check_cmd, success_condition, failure_condition,
			poll_interval_ms, timeout_at_ms, created_at_ms, last_check_at_ms,
			status, on_success_message, on_failure_message, on_timeout_message,
			last_output, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.SessionKey, task.CheckCmd, task.SuccessCondition, nullIfEmpty(task.FailureCondition),
		task.PollIntervalMs, task.TimeoutAtMs, task.CreatedAtMs, nullIfZero(task.LastCheckAtMs),
		string(task.Status), nullIfEmpty(task.OnSuccessMessage), nullIfEmpty(task.OnFailureMessage), nullIfEmpty(task.OnTimeoutMessage),
		nullIfEmpty(task.LastOutput), nullIfEmpty(task.Error))
	if err != nil {
		return fmt.Errorf("waittask: insert: %w", err)
	}
	return nil
}

// Update overwrites task's mutable fields by ID.
func (s *SQLiteStore) Update(ctx context.Context, task *models.WaitTask) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE wait_tasks SET
			last_check_at_ms = ?, status = ?, last_output = ?, error = ?
		WHERE id = ?
	`, nullIfZero(task.LastCheckAtMs), string(task.Status), nullIfEmpty(task.LastOutput), nullIfEmpty(task.Error), task.ID)
	if err != nil {
		return fmt.Errorf("waittask: update: %w", err)
	}
	return nil
}

// Get loads a single task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.WaitTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM wait_tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListDue returns every task still in {Pending, Running}, for the
// manager's 1s tick to filter by poll interval.
func (s *SQLiteStore) ListDue(ctx context.Context) ([]*models.WaitTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM wait_tasks WHERE status IN (?, ?)`,
		string(models.WaitPending), string(models.WaitRunning))
	if err != nil {
		return nil, fmt.Errorf("waittask: list due: %w", err)
	}
	defer rows.Close()

	var out []*models.WaitTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// ListAll returns every wait task regardless of status, for the CLI's
// `waittask list` command. Not part of the Store interface the Manager
// depends on, since the live run loop only ever needs ListDue.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*models.WaitTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM wait_tasks ORDER BY created_at_ms DESC`)
	if err != nil {
		return nil, fmt.Errorf("waittask: list all: %w", err)
	}
	defer rows.Close()

	var out []*models.WaitTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Cancel flips a non-terminal task to Cancelled. A task already in a
// terminal state is left untouched, per the monotone-status invariant.
func (s *SQLiteStore) Cancel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE wait_tasks SET status = ? WHERE id = ? AND status IN (?, ?)
	`, string(models.WaitCancelled), id, string(models.WaitPending), string(models.WaitRunning))
	if err != nil {
		return fmt.Errorf("waittask: cancel: %w", err)
	}
	return nil
}

// Prune deletes terminal-state tasks whose created_at is older than
// olderThan.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM wait_tasks WHERE created_at_ms < ? AND status IN (?, ?, ?, ?)
	`, cutoff, string(models.WaitSuccess), string(models.WaitFailed), string(models.WaitTimeout), string(models.WaitCancelled))
	if err != nil {
		return 0, fmt.Errorf("waittask: prune: %w", err)
	}
	return res.RowsAffected()
}

const selectColumns = `id, session_key, check_cmd, success_condition, failure_condition,
	poll_interval_ms, timeout_at_ms, created_at_ms, last_check_at_ms,
	status, on_success_message, on_failure_message, on_timeout_message,
	last_output, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.WaitTask, error) {
	var (
		t                 models.WaitTask
		failureCond       sql.NullString
		lastCheckAtMs     sql.NullInt64
		onSuccess         sql.NullString
		onFailure         sql.NullString
		onTimeout         sql.NullString
		lastOutput        sql.NullString
		errText           sql.NullString
		status            string
	)
	if err := row.Scan(&t.ID, &t.SessionKey, &t.CheckCmd, &t.SuccessCondition, &failureCond,
		&t.PollIntervalMs, &t.TimeoutAtMs, &t.CreatedAtMs, &lastCheckAtMs,
		&status, &onSuccess, &onFailure, &onTimeout, &lastOutput, &errText); err != nil {
		return nil, fmt.Errorf("waittask: scan: %w", err)
	}
	t.FailureCondition = failureCond.String
	t.Status = models.WaitTaskStatus(status)
	t.OnSuccessMessage = onSuccess.String
	t.OnFailureMessage = onFailure.String
	t.OnTimeoutMessage = onTimeout.String
	t.LastOutput = lastOutput.String
	t.Error = errText.String
	if lastCheckAtMs.Valid {
		v := lastCheckAtMs.Int64
		t.LastCheckAtMs = &v
	}
	return &t, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
