package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/crmjobs/internal/audit/domain"
	"github.com/smallbiznis/crmjobs/internal/authorization"
	"github.com/smallbiznis/crmjobs/internal/clock"
	estimatedomain "github.com/smallbiznis/crmjobs/internal/estimate/domain"
	"github.com/smallbiznis/crmjobs/internal/observability/logger"
	"github.com/smallbiznis/crmjobs/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	AuditSvc auditdomain.Service   `optional:"true"`
	Authz    authorization.Service `optional:"true"`
	Metrics  *metrics.Metrics      `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock    clock.Clock
	auditSvc auditdomain.Service
	authzSvc authorization.Service
	metrics  *metrics.Metrics
}

func NewService(p ServiceParam) estimatedomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("estimate.service"),
		clock:    c,
		auditSvc: p.AuditSvc,
		authzSvc: p.Authz,
		metrics:  p.Metrics,
	}
}

type expiryRow struct {
	ID             snowflake.ID
	OrgID          snowflake.ID
	EstimateNumber string
	ValidUntil     time.Time
}

func (s *Service) ExpireEstimates(ctx context.Context, today time.Time) ([]estimatedomain.ExpiredEstimate, error) {
	log := logger.WithContext(ctx, s.log)
	now := s.clock.Now().UTC()

	var expired []estimatedomain.ExpiredEstimate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []expiryRow
		err := tx.Raw(
			`SELECT id, org_id, estimate_number, valid_until
			 FROM estimates
			 WHERE status = ? AND valid_until < ?
			 ORDER BY valid_until, id`,
			estimatedomain.EstimateStatusSent,
			today,
		).Scan(&rows).Error
		if err != nil {
			return err
		}

		rows = s.filterAuthorized(ctx, rows)
		if len(rows) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		err = tx.Exec(
			`UPDATE estimates
			 SET status = ?, updated_at = ?
			 WHERE id IN ? AND status = ?`,
			estimatedomain.EstimateStatusExpired,
			now,
			ids,
			estimatedomain.EstimateStatusSent,
		).Error
		if err != nil {
			return err
		}

		for _, row := range rows {
			expired = append(expired, estimatedomain.ExpiredEstimate(row))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, est := range expired {
		s.emitAudit(ctx, est)
	}
	s.metrics.RecordEstimatesExpired(ctx, len(expired))

	log.Info("estimates expired",
		zap.Int("expired", len(expired)),
		zap.String("today", today.Format("2006-01-02")),
	)
	return expired, nil
}

func (s *Service) filterAuthorized(ctx context.Context, rows []expiryRow) []expiryRow {
	if s.authzSvc == nil {
		return rows
	}
	decisions := make(map[snowflake.ID]bool)
	filtered := rows[:0:0]
	for _, row := range rows {
		allowed, seen := decisions[row.OrgID]
		if !seen {
			err := s.authzSvc.Authorize(ctx, authorization.ActorSystem, row.OrgID.String(), authorization.ObjectEstimate, authorization.ActionEstimateExpire)
			if err != nil && !errors.Is(err, authorization.ErrForbidden) {
				s.log.Warn("authorization check failed", zap.String("org_id", row.OrgID.String()), zap.Error(err))
			}
			allowed = err == nil
			decisions[row.OrgID] = allowed
		}
		if allowed {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func (s *Service) emitAudit(ctx context.Context, est estimatedomain.ExpiredEstimate) {
	if s.auditSvc == nil {
		return
	}
	orgID := est.OrgID
	targetID := est.ID.String()
	err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, "estimate.expired", "estimate", &targetID, map[string]any{
		"estimate_number": est.EstimateNumber,
		"valid_until":     est.ValidUntil.Format("2006-01-02"),
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("estimate_id", targetID), zap.Error(err))
	}
}
