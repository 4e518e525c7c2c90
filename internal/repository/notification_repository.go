package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicdesk/civicdesk-api/internal/models"
)

// NotificationRepository manages persistence for notification records.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a new repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// List returns notifications newest first.
func (r *NotificationRepository) List(ctx context.Context) ([]models.Notification, error) {
	query := `SELECT id, complaint_id, message, timestamp, read FROM notifications ORDER BY timestamp DESC`
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// Create inserts a new unread notification with a server-assigned timestamp.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	notification.Timestamp = time.Now().UTC()
	notification.Read = false

	query := `INSERT INTO notifications (id, complaint_id, message, timestamp, read)
VALUES (:id, :complaint_id, :message, :timestamp, :read)`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// MarkRead flips read to true. The transition is one-way; marking an already
// read notification is a no-op at the store.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	query := `UPDATE notifications SET read = TRUE WHERE id = $1 AND read = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}
