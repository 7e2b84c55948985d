package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const execCols = `id, task_id, generation, attempt, status, result, ai_response, error,
started_at, finished_at, duration_ms`

func scanExecution(row rowScanner) (*TaskExecution, error) {
	var e TaskExecution
	err := row.Scan(
		&e.ID, &e.TaskID, &e.Generation, &e.Attempt, &e.Status, &e.Result,
		&e.AIResponse, &e.Error, &e.StartedAt, &e.FinishedAt, &e.DurationMS,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateExecution opens an attempt record. (task_id, generation, attempt) is
// unique: a duplicate delivery of the same attempt surfaces as
// ErrAlreadyExists, while each completed occurrence of a recurring task bumps
// the generation and numbers its attempts from 1 again.
func (s *Store) CreateExecution(ctx context.Context, taskID uuid.UUID, generation, attempt int) (*TaskExecution, error) {
	id := uuid.New()
	q := `
INSERT INTO task_executions (id, task_id, generation, attempt, status)
VALUES ($1, $2, $3, $4, 'started')
RETURNING ` + execCols + `;
`
	e, err := scanExecution(s.db.QueryRow(ctx, q, id, taskID, generation, attempt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	return e, nil
}

type FinishExecutionParams struct {
	Status     ExecutionStatus
	Result     json.RawMessage
	AIResponse *string
	Error      *string
}

// FinishExecution finalizes an attempt record. Only still-open records can be
// finished; the row is immutable afterwards.
func (s *Store) FinishExecution(ctx context.Context, execID uuid.UUID, p FinishExecutionParams) (*TaskExecution, error) {
	q := `
UPDATE task_executions
SET status      = $2,
    result      = $3,
    ai_response = $4,
    error       = $5,
    finished_at = $6,
    duration_ms = (EXTRACT(EPOCH FROM ($6 - started_at)) * 1000)::bigint
WHERE id = $1 AND status = 'started'
RETURNING ` + execCols + `;
`
	e, err := scanExecution(s.db.QueryRow(ctx, q,
		execID, string(p.Status), p.Result, p.AIResponse, p.Error, time.Now().UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *Store) ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]TaskExecution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := `
SELECT ` + execCols + `
FROM task_executions
WHERE task_id = $1
ORDER BY started_at DESC
LIMIT $2;
`
	rows, err := s.db.Query(ctx, q, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]TaskExecution, 0, limit)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
