package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	signaturedomain "github.com/smallbiznis/crmjobs/internal/signature/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Service) listDueReminders(ctx context.Context, now time.Time) ([]signaturedomain.DueReminder, error) {
	var rows []signaturedomain.DueReminder
	err := s.db.WithContext(ctx).Raw(
		`SELECT
			sr.id AS reminder_id,
			sr.document_id,
			sr.recipient_id,
			sr.scheduled_at,
			sr.delivery_attempts,
			d.org_id,
			d.title AS document_title,
			d.status AS document_status,
			d.message,
			d.sender_name,
			d.routing_mode,
			r.name AS recipient_name,
			r.email AS recipient_email,
			r.status AS recipient_status,
			r.routing_status
		 FROM signature_reminders sr
		 JOIN signature_recipients r ON r.id = sr.recipient_id
		 JOIN signature_documents d ON d.id = sr.document_id
		 WHERE sr.status = ? AND sr.scheduled_at <= ?
		 ORDER BY sr.scheduled_at, sr.id`,
		signaturedomain.ReminderStatusPending,
		now,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// issueRecipientToken replaces the recipient's token hash, which invalidates any link
// issued earlier, and moves the recipient to sent.
func (s *Service) issueRecipientToken(ctx context.Context, tx *gorm.DB, recipientID snowflake.ID, hash string, expiresAt time.Time, now time.Time) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE signature_recipients
		 SET token_hash = ?, token_expires_at = ?, status = ?, sent_at = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN ?`,
		hash,
		expiresAt,
		signaturedomain.RecipientStatusSent,
		now,
		now,
		recipientID,
		[]signaturedomain.RecipientStatus{signaturedomain.RecipientStatusSigned, signaturedomain.RecipientStatusDeclined},
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return signaturedomain.ErrRecipientCompleted
	}
	return nil
}

func (s *Service) updateReminderStatus(ctx context.Context, tx *gorm.DB, reminderID snowflake.ID, status signaturedomain.ReminderStatus, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE signature_reminders
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		now,
		reminderID,
		signaturedomain.ReminderStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) markReminderDelivered(ctx context.Context, tx *gorm.DB, reminderID snowflake.ID, now time.Time) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE signature_reminders
		 SET status = ?, delivery_status = ?, delivery_attempts = delivery_attempts + 1,
			last_error = NULL, sent_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		signaturedomain.ReminderStatusSent,
		signaturedomain.DeliveryStatusDelivered,
		now,
		now,
		reminderID,
		signaturedomain.ReminderStatusPending,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return signaturedomain.ErrReminderNotFound
	}
	return nil
}

func (s *Service) markDeliveryFailed(ctx context.Context, tx *gorm.DB, reminderID snowflake.ID, status signaturedomain.ReminderStatus, attempts int, lastError string, now time.Time) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE signature_reminders
		 SET status = ?, delivery_status = ?, delivery_attempts = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		signaturedomain.DeliveryStatusFailed,
		attempts,
		lastError,
		now,
		reminderID,
		signaturedomain.ReminderStatusPending,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return signaturedomain.ErrReminderNotFound
	}
	return nil
}

func (s *Service) insertAuditEntry(ctx context.Context, tx *gorm.DB, reminder signaturedomain.DueReminder, action string, details map[string]any, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO signature_audit_log (id, document_id, recipient_id, action, actor_type, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.genID.Generate(),
		reminder.DocumentID,
		reminder.RecipientID,
		action,
		"system",
		datatypes.JSONMap(details),
		now,
	).Error
}
