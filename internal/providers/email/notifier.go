package email

import (
	"context"
	"errors"
	"strings"

	signaturedomain "github.com/smallbiznis/crmjobs/internal/signature/domain"
)

const TemplateSignatureReminder = "signature_reminder"

type SignatureReminderData struct {
	RecipientName string
	DocumentTitle string
	SenderName    string
	Message       string
	SigningURL    string
	ExpiresAt     string
}

// ReminderNotifier delivers signature reminders over a Provider.
type ReminderNotifier struct {
	provider Provider
}

func NewReminderNotifier(provider Provider) *ReminderNotifier {
	return &ReminderNotifier{provider: provider}
}

func (n *ReminderNotifier) SendSignatureReminder(ctx context.Context, reminder signaturedomain.ReminderNotification) error {
	if n == nil || n.provider == nil {
		return signaturedomain.ErrNotifierUnavailable
	}
	to := strings.TrimSpace(reminder.To)
	if to == "" {
		return errors.New("email: recipient address is empty")
	}
	msg, err := NewTemplateMessage([]string{to}, TemplateSignatureReminder, SignatureReminderData{
		RecipientName: reminder.RecipientName,
		DocumentTitle: reminder.DocumentTitle,
		SenderName:    reminder.SenderName,
		Message:       reminder.Message,
		SigningURL:    reminder.SigningURL,
		ExpiresAt:     reminder.ExpiresAt.UTC().Format("Jan 2, 2006 15:04 MST"),
	})
	if err != nil {
		return err
	}
	return n.provider.Send(ctx, msg)
}
