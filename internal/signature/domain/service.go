package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	DispatchReminders(ctx context.Context) (DispatchResult, error)
}

// ReminderNotification is the payload handed to the notification channel.
type ReminderNotification struct {
	To            string
	RecipientName string
	DocumentTitle string
	SenderName    string
	Message       string
	SigningURL    string
	ExpiresAt     time.Time
}

type Notifier interface {
	SendSignatureReminder(ctx context.Context, n ReminderNotification) error
}

var (
	ErrReminderNotFound    = errors.New("reminder_not_found")
	ErrRecipientCompleted  = errors.New("recipient_completed")
	ErrNotifierUnavailable = errors.New("notifier_unavailable")
)
