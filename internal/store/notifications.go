package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"order-payment-service/internal/models"
)

const recipientClause = `((recipient_scope = 'USER' AND recipient_id = $1) OR ($2 AND recipient_scope = 'ADMIN_BROADCAST'))`

// CreateNotification inserts n unless its event was already recorded
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) (bool, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	err := s.db.GetContext(ctx, &n.ID, `
		INSERT INTO notifications (event_id, recipient_scope, recipient_id, type, title, message,
			related_order_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`,
		n.EventID, n.RecipientScope, n.RecipientID, n.Type, n.Title, n.Message, n.RelatedOrderID, n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}
	return true, nil
}

// ListNotifications returns the recipient's notifications, newest first
func (s *Store) ListNotifications(ctx context.Context, f models.NotificationFilter, limit, offset int) ([]models.Notification, error) {
	items := []models.Notification{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT * FROM notifications
		WHERE `+recipientClause+`
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		f.UserID, f.IncludeAdmin, limit, offset)
	return items, err
}

// CountUnread counts the recipient's unread notifications
func (s *Store) CountUnread(ctx context.Context, f models.NotificationFilter) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE is_read = FALSE AND "+recipientClause,
		f.UserID, f.IncludeAdmin)
	return count, err
}

// MarkNotificationRead marks one of the recipient's notifications read
func (s *Store) MarkNotificationRead(ctx context.Context, f models.NotificationFilter, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE id = $3 AND "+recipientClause,
		f.UserID, f.IncludeAdmin, id)
	if err != nil {
		return err
	}
	return requireAffected(res, models.ErrNotificationNotFound)
}

// MarkAllNotificationsRead marks every unread notification of the recipient read
func (s *Store) MarkAllNotificationsRead(ctx context.Context, f models.NotificationFilter) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE is_read = FALSE AND "+recipientClause,
		f.UserID, f.IncludeAdmin)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteNotification removes one of the recipient's notifications
func (s *Store) DeleteNotification(ctx context.Context, f models.NotificationFilter, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE id = $3 AND "+recipientClause,
		f.UserID, f.IncludeAdmin, id)
	if err != nil {
		return err
	}
	return requireAffected(res, models.ErrNotificationNotFound)
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
