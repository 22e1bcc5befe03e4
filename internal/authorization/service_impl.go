package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/crmjobs/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ActorSystem = "system"

	roleSystem = "role:system"
)

const (
	ObjectInvoice           = "invoice"
	ObjectRecurringTemplate = "recurring_invoice_template"
	ObjectEstimate          = "estimate"
	ObjectSignatureReminder = "signature_reminder"
)

const (
	ActionInvoiceMarkOverdue       = "invoice.mark_overdue"
	ActionInvoiceGenerateRecurring = "invoice.generate_recurring"
	ActionTemplateAdvance          = "recurring_invoice_template.advance"
	ActionEstimateExpire           = "estimate.expire"
	ActionSignatureReminderSend    = "signature_reminder.send"
	ActionSignatureReminderSkip    = "signature_reminder.skip"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

// Authorize checks actor against the tenant domain "org:<orgID>".
// Only the "system" actor is recognised; manual triggers run as system too.
func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, actorType, actorID, err := resolveActor(actor)
	if err != nil {
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(actor, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, orgID, object, action)
		return ErrForbidden
	}
	return nil
}

func resolveActor(actor string) (string, string, *string, error) {
	if actor == ActorSystem {
		return roleSystem, ActorSystem, nil, nil
	}
	return "", "", nil, ErrInvalidActor
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *string, orgID string, object string, action string) {
	s.log.Warn("authorization denied",
		zap.String("org_id", orgID),
		zap.String("actor_type", actorType),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	parsedOrgID, err := snowflake.ParseString(orgID)
	if err != nil || parsedOrgID == 0 {
		return
	}
	targetID := object
	_ = s.auditSvc.AuditLog(ctx, &parsedOrgID, actorType, actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{roleSystem, ObjectInvoice, ActionInvoiceMarkOverdue},
		{roleSystem, ObjectInvoice, ActionInvoiceGenerateRecurring},
		{roleSystem, ObjectRecurringTemplate, ActionTemplateAdvance},
		{roleSystem, ObjectEstimate, ActionEstimateExpire},
		{roleSystem, ObjectSignatureReminder, ActionSignatureReminderSend},
		{roleSystem, ObjectSignatureReminder, ActionSignatureReminderSkip},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
