package relay

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/propdash/propdash/internal/metrics"
	"github.com/propdash/propdash/internal/storage"
	"github.com/rs/zerolog/log"
)

// Priority is the urgency of a notification.
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

var priorityIcons = map[Priority]string{
	PriorityUrgent: "🚨",
	PriorityHigh:   "⚠️",
	PriorityMedium: "🔔",
	PriorityLow:    "ℹ️",
}

// ParsePriority parses a priority name case-insensitively. Empty or unknown
// names fall back to MEDIUM.
func ParsePriority(s string) Priority {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := priorityIcons[p]; ok {
		return p
	}
	return PriorityMedium
}

var (
	// ErrNotConfigured is returned when no Telegram bot or chat is set up.
	ErrNotConfigured = errors.New("telegram notification credentials are not configured")
	// ErrMissingMessage is returned for notifications without text.
	ErrMissingMessage = errors.New("message is required")
)

// Sender sends messages to Telegram. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NotificationLog records relayed notifications.
type NotificationLog interface {
	LogNotification(n *storage.Notification) error
}

// Request is a notification to relay.
type Request struct {
	Message    string `json:"message"`
	Priority   string `json:"priority"`
	FollowUpID string `json:"followUpId,omitempty"`
}

// Result describes a relayed notification.
type Result struct {
	Success    bool   `json:"success"`
	MessageID  int    `json:"messageId"`
	FollowUpID string `json:"followUpId,omitempty"`
}

// Relay forwards notifications to a fixed Telegram chat.
type Relay struct {
	tg     Sender
	chatID int64
	log    NotificationLog
}

// New creates a Relay. tg may be nil when Telegram is not configured, in
// which case every notification fails with ErrNotConfigured. notificationLog
// is optional.
func New(tg Sender, chatID int64, notificationLog NotificationLog) *Relay {
	return &Relay{tg: tg, chatID: chatID, log: notificationLog}
}

// Configured reports whether notifications can be sent.
func (r *Relay) Configured() bool {
	return r != nil && r.tg != nil && r.chatID != 0
}

// Notify formats the notification and sends it to the configured chat.
func (r *Relay) Notify(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrMissingMessage
	}
	if !r.Configured() {
		return nil, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	priority := ParsePriority(req.Priority)
	msg := tgbotapi.NewMessage(r.chatID, FormatMessage(priority, req.Message, req.FollowUpID))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	record := &storage.Notification{
		Message:    req.Message,
		Priority:   string(priority),
		FollowUpID: req.FollowUpID,
	}

	sent, err := r.tg.Send(msg)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(priority), "failed").Inc()
		record.Status = storage.NotificationFailed
		record.Error = err.Error()
		r.record(record)
		return nil, fmt.Errorf("telegram rejected notification: %w", err)
	}

	metrics.NotificationsTotal.WithLabelValues(string(priority), "sent").Inc()
	record.Status = storage.NotificationSent
	record.TelegramMessageID = sent.MessageID
	r.record(record)

	log.Info().
		Str("priority", string(priority)).
		Int("messageId", sent.MessageID).
		Str("followUpId", req.FollowUpID).
		Msg("notification relayed")

	return &Result{Success: true, MessageID: sent.MessageID, FollowUpID: req.FollowUpID}, nil
}

func (r *Relay) record(n *storage.Notification) {
	if r.log == nil {
		return
	}
	if err := r.log.LogNotification(n); err != nil {
		log.Warn().Err(err).Msg("failed to log notification")
	}
}

// FormatMessage renders a notification as Telegram HTML.
func FormatMessage(priority Priority, message, followUpID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n%s", priorityIcons[priority], priority, html.EscapeString(strings.TrimSpace(message)))
	if followUpID != "" {
		fmt.Fprintf(&b, "\n\nFollow-up: <code>%s</code>", html.EscapeString(followUpID))
	}
	return b.String()
}
