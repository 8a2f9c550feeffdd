package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/resale/internal/domain"
)

// NotificationStore implements domain.NotificationStore using PostgreSQL.
type NotificationStore struct {
	q querier
}

// Create persists a delivered notification.
func (s *NotificationStore) Create(ctx context.Context, n domain.Notification) error {
	var payload []byte
	if n.Payload != nil {
		var err error
		if payload, err = json.Marshal(n.Payload); err != nil {
			return fmt.Errorf("postgres: marshal notification payload: %w", err)
		}
	}

	const query = `
		INSERT INTO notifications (id, recipient_id, event, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.q.Exec(ctx, query, n.ID, n.RecipientID, n.Event, n.Message, payload, n.CreatedAt); err != nil {
		return fmt.Errorf("postgres: create notification %s: %w", n.ID, err)
	}
	return nil
}

// ListByRecipient returns a user's notifications, newest first.
func (s *NotificationStore) ListByRecipient(ctx context.Context, recipientID string, opts domain.ListOpts) ([]domain.Notification, error) {
	query, args := paginate(
		`SELECT id, recipient_id, event, message, payload, created_at FROM notifications WHERE recipient_id = $1`,
		[]any{recipientID}, opts,
	)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notifications for %s: %w", recipientID, err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n       domain.Notification
			payload []byte
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Event, &n.Message, &payload, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan notification: %w", err)
		}
		if payload != nil {
			if err := json.Unmarshal(payload, &n.Payload); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal notification payload: %w", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list notifications rows: %w", err)
	}
	return out, nil
}
