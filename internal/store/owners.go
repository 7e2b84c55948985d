package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetOwner(ctx context.Context, id string) (*Owner, error) {
	q := `
SELECT id, name, timezone, telegram_chat_id, webhook_url
FROM owners
WHERE id = $1;
`
	var o Owner
	err := s.db.QueryRow(ctx, q, id).Scan(&o.ID, &o.Name, &o.Timezone, &o.TelegramChatID, &o.WebhookURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) UpsertOwner(ctx context.Context, o Owner) error {
	q := `
INSERT INTO owners (id, name, timezone, telegram_chat_id, webhook_url)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    timezone = EXCLUDED.timezone,
    telegram_chat_id = EXCLUDED.telegram_chat_id,
    webhook_url = EXCLUDED.webhook_url;
`
	_, err := s.db.Exec(ctx, q, o.ID, o.Name, o.Timezone, o.TelegramChatID, o.WebhookURL)
	return err
}
