package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RecordEvaluationParams struct {
	EventID          string
	OwnerID          string
	Title            string
	ShouldProcess    bool
	Reason           string
	Confidence       float64
	SuggestedActions json.RawMessage
	Context          json.RawMessage
	CreatedTaskID    *uuid.UUID
}

// RecordEvaluation appends one Event Evaluator invocation to the audit log.
func (s *Store) RecordEvaluation(ctx context.Context, p RecordEvaluationParams) (*EvaluationRecord, error) {
	id := uuid.New()
	q := `
INSERT INTO event_log (id, event_id, owner_id, title, should_process, reason,
                       confidence, suggested_actions, context, created_task_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, event_id, owner_id, title, should_process, reason, confidence,
          suggested_actions, context, created_task_id, evaluated_at;
`
	var r EvaluationRecord
	err := s.db.QueryRow(ctx, q,
		id, p.EventID, p.OwnerID, p.Title, p.ShouldProcess, p.Reason,
		p.Confidence, p.SuggestedActions, p.Context, p.CreatedTaskID,
	).Scan(
		&r.ID, &r.EventID, &r.OwnerID, &r.Title, &r.ShouldProcess, &r.Reason,
		&r.Confidence, &r.SuggestedActions, &r.Context, &r.CreatedTaskID, &r.EvaluatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// PriorOccurrences returns evaluation timestamps of earlier events with the
// same owner and title, newest first. The evaluator uses these to classify a
// recurrence pattern when the event itself does not declare one.
func (s *Store) PriorOccurrences(ctx context.Context, ownerID, title string, limit int) ([]time.Time, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	q := `
SELECT evaluated_at
FROM event_log
WHERE owner_id = $1 AND title = $2
ORDER BY evaluated_at DESC
LIMIT $3;
`
	rows, err := s.db.Query(ctx, q, ownerID, title, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]time.Time, 0, limit)
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentCompletedTasks feeds related-task history into evaluation context.
func (s *Store) RecentCompletedTasks(ctx context.Context, ownerID string, limit int) ([]Task, error) {
	if limit <= 0 || limit > 50 {
		limit = 5
	}
	q := `
SELECT ` + taskCols + `
FROM tasks
WHERE owner_id = $1 AND status = 'completed'
ORDER BY updated_at DESC
LIMIT $2;
`
	rows, err := s.db.Query(ctx, q, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows, limit)
}
