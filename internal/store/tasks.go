package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avolokh/taskmind/internal/schedule"
)

const taskCols = `id, owner_id, title, description, task_type, schedule_type,
schedule_config, next_run_at, ai_context, channels, status, generation,
retries, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t        Task
		cfgRaw   []byte
		chansRaw []byte
	)
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.Type, &t.ScheduleType,
		&cfgRaw, &t.NextRunAt, &t.AIContext, &chansRaw, &t.Status, &t.Generation,
		&t.Retries, &t.LastError, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(cfgRaw) > 0 {
		if err := json.Unmarshal(cfgRaw, &t.ScheduleConfig); err != nil {
			return nil, fmt.Errorf("decode schedule_config: %w", err)
		}
	}
	if len(chansRaw) > 0 {
		if err := json.Unmarshal(chansRaw, &t.Channels); err != nil {
			return nil, fmt.Errorf("decode channels: %w", err)
		}
	}
	return &t, nil
}

type CreateTaskParams struct {
	OwnerID        string
	Title          string
	Description    string
	Type           TaskType
	ScheduleType   schedule.Type
	ScheduleConfig schedule.Config
	NextRunAt      time.Time // required for once; derived from the config otherwise
	AIContext      string
	Channels       []string
}

func (p *CreateTaskParams) validate(now time.Time) error {
	if strings.TrimSpace(p.OwnerID) == "" {
		return fmt.Errorf("%w: owner_id is required", ErrValidation)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	switch p.Type {
	case TypeReminder, TypeAutomated, TypePeriodic:
	default:
		return fmt.Errorf("%w: unknown task_type %q", ErrValidation, p.Type)
	}
	if err := schedule.Validate(p.ScheduleType, p.ScheduleConfig); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if p.NextRunAt.IsZero() {
		if p.ScheduleType == schedule.TypeOnce {
			return fmt.Errorf("%w: once schedule requires next_run_at", ErrValidation)
		}
		first, err := schedule.First(p.ScheduleType, p.ScheduleConfig, now)
		if err != nil {
			return fmt.Errorf("%w: cannot derive next_run_at: %v", ErrValidation, err)
		}
		p.NextRunAt = first
	}
	return nil
}

func (s *Store) CreateTask(ctx context.Context, p CreateTaskParams) (*Task, error) {
	if err := p.validate(time.Now()); err != nil {
		return nil, err
	}

	cfgRaw, err := json.Marshal(p.ScheduleConfig)
	if err != nil {
		return nil, err
	}
	if p.Channels == nil {
		p.Channels = []string{}
	}
	chansRaw, err := json.Marshal(p.Channels)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	q := `
INSERT INTO tasks (id, owner_id, title, description, task_type, schedule_type,
                   schedule_config, next_run_at, ai_context, channels, status)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10::jsonb, 'pending')
RETURNING ` + taskCols + `;
`
	return scanTask(s.db.QueryRow(ctx, q,
		id, p.OwnerID, p.Title, p.Description, string(p.Type), string(p.ScheduleType),
		cfgRaw, p.NextRunAt.UTC(), p.AIContext, chansRaw,
	))
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	q := `SELECT ` + taskCols + ` FROM tasks WHERE id = $1;`
	t, err := scanTask(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

type ListTasksParams struct {
	OwnerID *string
	Status  *TaskStatus
	Type    *TaskType
	Limit   int
	Offset  int
}

func (s *Store) ListTasks(ctx context.Context, p ListTasksParams) ([]Task, error) {
	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	q := `
SELECT ` + taskCols + `
FROM tasks
WHERE ($1::text IS NULL OR owner_id = $1)
  AND ($2::text IS NULL OR status = $2)
  AND ($3::text IS NULL OR task_type = $3)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5;
`
	var status, typ *string
	if p.Status != nil {
		v := string(*p.Status)
		status = &v
	}
	if p.Type != nil {
		v := string(*p.Type)
		typ = &v
	}

	rows, err := s.db.Query(ctx, q, p.OwnerID, status, typ, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows, limit)
}

func collectTasks(rows pgx.Rows, capHint int) ([]Task, error) {
	out := make([]Task, 0, capHint)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type UpdateTaskParams struct {
	Title       *string
	Description *string
	AIContext   *string
	Channels    []string // nil keeps current
	NextRunAt   *time.Time
}

func (s *Store) UpdateTask(ctx context.Context, id uuid.UUID, p UpdateTaskParams) (*Task, error) {
	var chansRaw []byte
	if p.Channels != nil {
		b, err := json.Marshal(p.Channels)
		if err != nil {
			return nil, err
		}
		chansRaw = b
	}

	q := `
UPDATE tasks
SET title       = COALESCE($2, title),
    description = COALESCE($3, description),
    ai_context  = COALESCE($4, ai_context),
    channels    = COALESCE($5::jsonb, channels),
    next_run_at = COALESCE($6, next_run_at),
    updated_at  = now()
WHERE id = $1
RETURNING ` + taskCols + `;
`
	t, err := scanTask(s.db.QueryRow(ctx, q, id, p.Title, p.Description, p.AIContext, chansRaw, p.NextRunAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// DeleteTask is the only way to remove a recurring task permanently.
func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1;`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DueTasks returns pending tasks whose next_run_at has passed, oldest first.
func (s *Store) DueTasks(ctx context.Context, now time.Time, ownerID *string) ([]Task, error) {
	q := `
SELECT ` + taskCols + `
FROM tasks
WHERE status = 'pending'
  AND next_run_at <= $1
  AND ($2::text IS NULL OR owner_id = $2)
ORDER BY next_run_at ASC
LIMIT 500;
`
	rows, err := s.db.Query(ctx, q, now.UTC(), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows, 64)
}

// ClaimTask atomically transitions pending -> claimed. This single conditional
// write is the only concurrency-control primitive in the subsystem; losing the
// race yields ErrClaimConflict, which callers treat as a benign skip.
func (s *Store) ClaimTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	q := `
UPDATE tasks
SET status = 'claimed', updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING ` + taskCols + `;
`
	t, err := scanTask(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetTask(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrClaimConflict
	}
	return t, err
}

// MarkRunning transitions claimed -> running.
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID) (*Task, error) {
	q := `
UPDATE tasks
SET status = 'running', updated_at = now()
WHERE id = $1 AND status = 'claimed'
RETURNING ` + taskCols + `;
`
	t, err := scanTask(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetTask(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	return t, err
}

// CompleteTask finishes an execution. A nil next marks the task completed;
// otherwise the row is reused: status returns to pending with the fresh
// next_run_at, a cleared retry counter and a bumped generation, so the next
// occurrence gets its own attempt numbering in task_executions. Conditional on
// claimed/running so a duplicate completion of an already-terminal task is a
// no-op conflict.
func (s *Store) CompleteTask(ctx context.Context, id uuid.UUID, next *time.Time) (*Task, error) {
	var q string
	var args []any
	if next != nil {
		q = `
UPDATE tasks
SET status = 'pending', next_run_at = $2, generation = generation + 1, retries = 0,
    last_error = NULL, updated_at = now()
WHERE id = $1 AND status IN ('claimed', 'running')
RETURNING ` + taskCols + `;
`
		args = []any{id, next.UTC()}
	} else {
		q = `
UPDATE tasks
SET status = 'completed', last_error = NULL, updated_at = now()
WHERE id = $1 AND status IN ('claimed', 'running')
RETURNING ` + taskCols + `;
`
		args = []any{id}
	}

	t, err := scanTask(s.db.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetTask(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	return t, err
}

// FailTask marks a task terminally failed with a human-readable message.
func (s *Store) FailTask(ctx context.Context, id uuid.UUID, errMsg string) (*Task, error) {
	q := `
UPDATE tasks
SET status = 'failed', last_error = $2, updated_at = now()
WHERE id = $1 AND status IN ('claimed', 'running')
RETURNING ` + taskCols + `;
`
	t, err := scanTask(s.db.QueryRow(ctx, q, id, errMsg))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetTask(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	return t, err
}

// RetryTask returns a claimed/running task to pending with a deferred
// next_run_at, incrementing the retry counter. Used for transient execution
// failures so the next scan cycle picks the task up after the backoff delay.
func (s *Store) RetryTask(ctx context.Context, id uuid.UUID, at time.Time, errMsg string) (*Task, error) {
	q := `
UPDATE tasks
SET status = 'pending', next_run_at = $2, retries = retries + 1, last_error = $3, updated_at = now()
WHERE id = $1 AND status IN ('claimed', 'running')
RETURNING ` + taskCols + `;
`
	t, err := scanTask(s.db.QueryRow(ctx, q, id, at.UTC(), errMsg))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetTask(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	return t, err
}

// ReclaimStale recovers tasks stuck in claimed/running past the timeout
// (worker crash, wedged external call) back to pending.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) ([]Task, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	q := `
UPDATE tasks
SET status = 'pending', retries = retries + 1, updated_at = now()
WHERE status IN ('claimed', 'running') AND updated_at < $1
RETURNING ` + taskCols + `;
`
	rows, err := s.db.Query(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows, 16)
}

// Stats reports counts by task status, the current due backlog and average
// execution time for the operational surface.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByStatus:          map[TaskStatus]int64{},
		ExecutionsByState: map[ExecutionStatus]int64{},
	}

	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM tasks GROUP BY status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.ByStatus[TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE status = 'pending' AND next_run_at <= now();`,
	).Scan(&st.Due)
	if err != nil {
		return nil, err
	}

	execRows, err := s.db.Query(ctx, `SELECT status, count(*) FROM task_executions GROUP BY status;`)
	if err != nil {
		return nil, err
	}
	defer execRows.Close()
	for execRows.Next() {
		var status string
		var n int64
		if err := execRows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.ExecutionsByState[ExecutionStatus(status)] = n
	}
	if err := execRows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRow(ctx,
		`SELECT COALESCE(avg(duration_ms), 0) FROM task_executions WHERE duration_ms IS NOT NULL;`,
	).Scan(&st.AvgExecutionMS)
	if err != nil {
		return nil, err
	}

	return st, nil
}
