package store

import (
	"context"
	"fmt"

	"order-payment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

func insertOutbox(ctx context.Context, tx *sqlx.Tx, msgs ...*models.OutboxMessage) error {
	for _, msg := range msgs {
		err := tx.GetContext(ctx, &msg.ID, `
			INSERT INTO outbox (event_id, event_type, key, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			msg.EventID, msg.EventType, msg.Key, msg.Payload, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert outbox message: %w", err)
		}
	}
	return nil
}

// RelayOutbox hands up to limit unsent messages to publish in insertion order
// and marks the published ones sent. It stops at the first publish error,
// which it returns along with the number sent. Rows are claimed with SKIP
// LOCKED so concurrent relays never publish the same batch.
func (s *Store) RelayOutbox(
	ctx context.Context,
	limit int,
	publish func(ctx context.Context, msg models.OutboxMessage) error,
) (int, error) {
	var (
		sent       []int64
		publishErr error
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var pending []models.OutboxMessage
		err := tx.SelectContext(ctx, &pending, `
			SELECT * FROM outbox WHERE sent_at IS NULL
			ORDER BY id LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("failed to fetch outbox: %w", err)
		}

		for _, msg := range pending {
			if publishErr = publish(ctx, msg); publishErr != nil {
				if _, err := tx.ExecContext(ctx,
					"UPDATE outbox SET attempts = attempts + 1 WHERE id = $1", msg.ID); err != nil {
					return fmt.Errorf("failed to count outbox attempt: %w", err)
				}
				break
			}
			sent = append(sent, msg.ID)
		}

		if len(sent) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE outbox SET sent_at = $1 WHERE id = ANY($2)", s.now(), pq.Array(sent))
		if err != nil {
			return fmt.Errorf("failed to mark outbox sent: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(sent), publishErr
}
