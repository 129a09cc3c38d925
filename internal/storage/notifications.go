package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification statuses.
const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// Notification is one relayed (or attempted) Telegram notification.
type Notification struct {
	ID                string    `json:"id"`
	Message           string    `json:"message"`
	Priority          string    `json:"priority"`
	FollowUpID        string    `json:"followUpId,omitempty"`
	TelegramMessageID int       `json:"telegramMessageId,omitempty"`
	Status            string    `json:"status"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// LogNotification records a notification. ID and CreatedAt are filled in
// when empty.
func (s *SQLiteStore) LogNotification(n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO notifications (id, message, priority, follow_up_id, telegram_message_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Message, n.Priority, n.FollowUpID, n.TelegramMessageID, n.Status, n.Error, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log notification: %w", err)
	}

	return nil
}

// GetNotification retrieves a notification by ID.
// Returns nil, nil if it does not exist.
func (s *SQLiteStore) GetNotification(id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n Notification
	err := s.db.QueryRow(`
		SELECT id, message, priority, follow_up_id, telegram_message_id, status, error, created_at
		FROM notifications WHERE id = ?
	`, id).Scan(&n.ID, &n.Message, &n.Priority, &n.FollowUpID, &n.TelegramMessageID, &n.Status, &n.Error, &n.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notification: %w", err)
	}

	return &n, nil
}

// RecentNotifications returns up to limit notifications, newest first.
func (s *SQLiteStore) RecentNotifications(limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, message, priority, follow_up_id, telegram_message_id, status, error, created_at
		FROM notifications ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Message, &n.Priority, &n.FollowUpID, &n.TelegramMessageID, &n.Status, &n.Error, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}
