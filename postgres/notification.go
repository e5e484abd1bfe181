package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/flow"
)

// NotificationWriter implements flow.NotificationSink and flow.NotificationReader.
// It is built from the privileged pool, since engine notifications target
// users other than the one driving the automation.
type NotificationWriter struct {
	db *pgxpool.Pool
}

// NewNotificationWriter creates a NotificationWriter on the admin pool.
func NewNotificationWriter(admin *pgxpool.Pool) *NotificationWriter {
	return &NotificationWriter{db: admin}
}

// InsertNotification stores n, filling in ID, status and creation time when empty.
func (w *NotificationWriter) InsertNotification(ctx context.Context, n *flow.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = flow.NotificationUnread
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	var data []byte
	if len(n.Data) > 0 {
		data = n.Data
	}

	_, err := w.db.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, status, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, nullable(n.UserID), n.Type, n.Title, n.Message, string(n.Status), data, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("flow: insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns the notifications addressed to userID, oldest first.
// An empty userID lists global notifications.
func (w *NotificationWriter) ListNotifications(ctx context.Context, userID string) ([]flow.Notification, error) {
	rows, err := w.db.Query(ctx,
		`SELECT id, user_id, type, title, message, status, data, created_at FROM notifications
		 WHERE user_id IS NOT DISTINCT FROM $1 ORDER BY created_at, id`, nullable(userID))
	if err != nil {
		return nil, fmt.Errorf("flow: list notifications: %w", err)
	}
	defer rows.Close()

	out := []flow.Notification{}
	for rows.Next() {
		var (
			n      flow.Notification
			user   *string
			status string
			data   []byte
		)
		if err := rows.Scan(&n.ID, &user, &n.Type, &n.Title, &n.Message, &status, &data, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("flow: scan notification: %w", err)
		}
		if user != nil {
			n.UserID = *user
		}
		n.Status = flow.NotificationStatus(status)
		n.Data = data
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows notifications: %w", err)
	}

	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
