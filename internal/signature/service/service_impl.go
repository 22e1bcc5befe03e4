package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/crmjobs/internal/audit/masking"
	"github.com/smallbiznis/crmjobs/internal/authorization"
	"github.com/smallbiznis/crmjobs/internal/clock"
	"github.com/smallbiznis/crmjobs/internal/config"
	"github.com/smallbiznis/crmjobs/internal/observability/logger"
	"github.com/smallbiznis/crmjobs/internal/observability/metrics"
	signaturedomain "github.com/smallbiznis/crmjobs/internal/signature/domain"
	"github.com/smallbiznis/crmjobs/internal/signature/token"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultTokenTTL            = 7 * 24 * time.Hour
	defaultMaxDeliveryAttempts = 3
	maxLastErrorLength         = 500

	notificationChannelEmail = "email"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Notifier signaturedomain.Notifier `optional:"true"`
	Authz    authorization.Service    `optional:"true"`
	Metrics  *metrics.Metrics         `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	notifier signaturedomain.Notifier
	authzSvc authorization.Service
	metrics  *metrics.Metrics

	baseURL     string
	tokenTTL    time.Duration
	maxAttempts int
}

func NewService(p ServiceParam) signaturedomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	ttl := p.Config.Signature.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	attempts := p.Config.Signature.MaxDeliveryAttempts
	if attempts <= 0 {
		attempts = defaultMaxDeliveryAttempts
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("signature.service"),
		genID: p.GenID,
		clock: c,

		notifier: p.Notifier,
		authzSvc: p.Authz,
		metrics:  p.Metrics,

		baseURL:     strings.TrimRight(strings.TrimSpace(p.Config.AppBaseURL), "/"),
		tokenTTL:    ttl,
		maxAttempts: attempts,
	}
}

// DispatchReminders processes every pending reminder scheduled at or before now.
// Per-reminder failures are joined into the returned error; the pass always completes.
func (s *Service) DispatchReminders(ctx context.Context) (signaturedomain.DispatchResult, error) {
	log := logger.WithContext(ctx, s.log)
	now := s.clock.Now().UTC()

	reminders, err := s.listDueReminders(ctx, now)
	if err != nil {
		return signaturedomain.DispatchResult{}, err
	}

	var result signaturedomain.DispatchResult
	var errs []error
	// recipients already mailed this pass; later reminders reuse that token
	notified := make(map[snowflake.ID]bool)
	for _, reminder := range reminders {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		decision := signaturedomain.Decide(reminder)
		switch decision.Action {
		case signaturedomain.ActionDefer:
			result.Deferred++
			s.metrics.RecordReminder(ctx, "deferred")
			log.Debug("reminder deferred",
				zap.String("reminder_id", reminder.ReminderID.String()),
				zap.String("reason", decision.Reason),
			)
		case signaturedomain.ActionSkip:
			if err := s.skipReminder(ctx, reminder, decision.Reason, now); err != nil {
				errs = append(errs, fmt.Errorf("skip reminder %s: %w", reminder.ReminderID, err))
				continue
			}
			result.Skipped++
			s.metrics.RecordReminder(ctx, "skipped")
		case signaturedomain.ActionDispatch:
			if notified[reminder.RecipientID] {
				if err := s.coalesceReminder(ctx, reminder, now); err != nil {
					errs = append(errs, fmt.Errorf("coalesce reminder %s: %w", reminder.ReminderID, err))
					continue
				}
				result.Sent++
				s.metrics.RecordReminder(ctx, "sent")
				continue
			}
			delivered, err := s.sendReminder(ctx, reminder, now)
			if err != nil {
				if errors.Is(err, signaturedomain.ErrRecipientCompleted) {
					result.Deferred++
					continue
				}
				errs = append(errs, fmt.Errorf("send reminder %s: %w", reminder.ReminderID, err))
				continue
			}
			if delivered {
				notified[reminder.RecipientID] = true
				result.Sent++
				s.metrics.RecordReminder(ctx, "sent")
			} else {
				result.Failed++
				s.metrics.RecordReminder(ctx, "failed")
			}
		}
	}

	log.Info("signature reminders dispatched",
		zap.Int("due", len(reminders)),
		zap.Int("sent", result.Sent),
		zap.Int("skipped", result.Skipped),
		zap.Int("deferred", result.Deferred),
		zap.Int("failed", result.Failed),
	)
	return result, errors.Join(errs...)
}

// sendReminder rotates the recipient's signing token, notifies them and records the
// delivery outcome. It reports false when the notification was not delivered.
func (s *Service) sendReminder(ctx context.Context, reminder signaturedomain.DueReminder, now time.Time) (bool, error) {
	if s.authzSvc != nil {
		err := s.authzSvc.Authorize(ctx, authorization.ActorSystem, reminder.OrgID.String(), authorization.ObjectSignatureReminder, authorization.ActionSignatureReminderSend)
		if err != nil {
			return false, err
		}
	}

	raw, hash, err := token.New()
	if err != nil {
		return false, err
	}
	expiresAt := now.Add(s.tokenTTL)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.issueRecipientToken(ctx, tx, reminder.RecipientID, hash, expiresAt, now)
	})
	if err != nil {
		return false, err
	}

	signingURL, err := s.signingURL(raw)
	if err != nil {
		return false, err
	}

	sendErr := s.notify(ctx, signaturedomain.ReminderNotification{
		To:            reminder.RecipientEmail,
		RecipientName: reminder.RecipientName,
		DocumentTitle: reminder.DocumentTitle,
		SenderName:    deref(reminder.SenderName),
		Message:       deref(reminder.Message),
		SigningURL:    signingURL,
		ExpiresAt:     expiresAt,
	})
	if sendErr != nil {
		s.metrics.RecordNotificationError(ctx, notificationChannelEmail)
		logger.WithContext(ctx, s.log).Warn("reminder delivery failed",
			zap.String("reminder_id", reminder.ReminderID.String()),
			zap.String("recipient_id", reminder.RecipientID.String()),
			zap.String("recipient_email", masking.MaskEmail(reminder.RecipientEmail)),
			zap.Int("attempt", reminder.DeliveryAttempts+1),
			zap.Error(sendErr),
		)
		return false, s.recordDeliveryFailure(ctx, reminder, sendErr, now)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.markReminderDelivered(ctx, tx, reminder.ReminderID, now); err != nil {
			return err
		}
		return s.insertAuditEntry(ctx, tx, reminder, signaturedomain.AuditActionReminderSent, map[string]any{
			"reminder_id":      reminder.ReminderID.String(),
			"email":            reminder.RecipientEmail,
			"token_expires_at": expiresAt.Format(time.RFC3339),
			"attempt":          reminder.DeliveryAttempts + 1,
		}, now)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// coalesceReminder marks a reminder delivered by an email already sent to the same
// recipient during this pass. Rotating the token again would void that link.
func (s *Service) coalesceReminder(ctx context.Context, reminder signaturedomain.DueReminder, now time.Time) error {
	if s.authzSvc != nil {
		err := s.authzSvc.Authorize(ctx, authorization.ActorSystem, reminder.OrgID.String(), authorization.ObjectSignatureReminder, authorization.ActionSignatureReminderSend)
		if err != nil {
			return err
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.markReminderDelivered(ctx, tx, reminder.ReminderID, now); err != nil {
			return err
		}
		return s.insertAuditEntry(ctx, tx, reminder, signaturedomain.AuditActionReminderSent, map[string]any{
			"reminder_id":      reminder.ReminderID.String(),
			"email":            reminder.RecipientEmail,
			"token_expires_at": now.Add(s.tokenTTL).Format(time.RFC3339),
			"coalesced":        true,
		}, now)
	})
}

func (s *Service) skipReminder(ctx context.Context, reminder signaturedomain.DueReminder, reason string, now time.Time) error {
	if s.authzSvc != nil {
		err := s.authzSvc.Authorize(ctx, authorization.ActorSystem, reminder.OrgID.String(), authorization.ObjectSignatureReminder, authorization.ActionSignatureReminderSkip)
		if err != nil {
			return err
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := s.updateReminderStatus(ctx, tx, reminder.ReminderID, signaturedomain.ReminderStatusSkipped, now)
		if err != nil {
			return err
		}
		if !updated {
			return nil
		}
		return s.insertAuditEntry(ctx, tx, reminder, signaturedomain.AuditActionReminderSkipped, map[string]any{
			"reminder_id": reminder.ReminderID.String(),
			"reason":      reason,
		}, now)
	})
}

func (s *Service) recordDeliveryFailure(ctx context.Context, reminder signaturedomain.DueReminder, sendErr error, now time.Time) error {
	attempts := reminder.DeliveryAttempts + 1
	status := signaturedomain.ReminderStatusPending
	if attempts >= s.maxAttempts {
		status = signaturedomain.ReminderStatusFailed
	}
	lastError := sendErr.Error()
	if len(lastError) > maxLastErrorLength {
		lastError = lastError[:maxLastErrorLength]
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.markDeliveryFailed(ctx, tx, reminder.ReminderID, status, attempts, lastError, now); err != nil {
			return err
		}
		if status != signaturedomain.ReminderStatusFailed {
			return nil
		}
		return s.insertAuditEntry(ctx, tx, reminder, signaturedomain.AuditActionReminderFailed, map[string]any{
			"reminder_id": reminder.ReminderID.String(),
			"attempts":    attempts,
			"last_error":  lastError,
		}, now)
	})
}

func (s *Service) notify(ctx context.Context, n signaturedomain.ReminderNotification) error {
	if s.notifier == nil {
		return signaturedomain.ErrNotifierUnavailable
	}
	return s.notifier.SendSignatureReminder(ctx, n)
}

func (s *Service) signingURL(raw string) (string, error) {
	if s.baseURL == "" {
		return "/sign/" + raw, nil
	}
	return url.JoinPath(s.baseURL, "sign", raw)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
