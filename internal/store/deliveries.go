package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// MarkDelivery records a notification attempt keyed by (execution_id, channel)
// and reports whether this is the first attempt for that key. A false return
// means the same logical outcome was already delivered on that channel, so the
// caller must not send again. At-least-once with dedup-by-key, not exactly-once.
func (s *Store) MarkDelivery(ctx context.Context, executionID uuid.UUID, channel string) (bool, error) {
	q := `INSERT INTO notification_deliveries (execution_id, channel) VALUES ($1, $2);`
	_, err := s.db.Exec(ctx, q, executionID, channel)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
