package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/assignment-review-api/internal/models"
)

const notificationColumns = `id, recipient_id, assignment_id, type, title, message, is_read, read_at,
       email_sent, email_sent_at, email_error, triggered_by, created_at`

// NotificationRepository persists notification records and their delivery outcome.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a new unread notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications
	(id, recipient_id, assignment_id, type, title, message, is_read, read_at, email_sent, email_sent_at, email_error, triggered_by, created_at)
	VALUES (:id, :recipient_id, :assignment_id, :type, :title, :message, :is_read, :read_at, :email_sent, :email_sent_at, :email_error, :triggered_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// GetByID fetches a notification by identifier.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

// MarkRead flags the notification as read for its recipient. The first read
// timestamp is kept on repeated calls.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string, at time.Time) (*models.Notification, error) {
	query := `UPDATE notifications SET is_read = TRUE, read_at = COALESCE(read_at, $3)
	WHERE id = $1 AND recipient_id = $2
	RETURNING ` + notificationColumns
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id, recipientID, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return &n, nil
}

// RecordDelivery marks the notification as delivered.
func (r *NotificationRepository) RecordDelivery(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE notifications SET email_sent = TRUE, email_sent_at = $2, email_error = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("record notification delivery: %w", err)
	}
	return nil
}

// RecordDeliveryFailure stores the delivery error for later inspection.
func (r *NotificationRepository) RecordDeliveryFailure(ctx context.Context, id, reason string) error {
	const query = `UPDATE notifications SET email_sent = FALSE, email_error = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, reason); err != nil {
		return fmt.Errorf("record notification failure: %w", err)
	}
	return nil
}

// ListForRecipient returns the newest notifications for a user.
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = $1`
	if unreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	var list []models.Notification
	if err := r.db.SelectContext(ctx, &list, query, recipientID); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}
