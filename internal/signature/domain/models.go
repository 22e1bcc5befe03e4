package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type DocumentStatus string

const (
	DocumentStatusDraft     DocumentStatus = "draft"
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusCompleted DocumentStatus = "completed"
	DocumentStatusVoided    DocumentStatus = "voided"
	DocumentStatusExpired   DocumentStatus = "expired"
)

type RoutingMode string

const (
	RoutingModeParallel   RoutingMode = "parallel"
	RoutingModeSequential RoutingMode = "sequential"
)

type RecipientStatus string

const (
	RecipientStatusPending  RecipientStatus = "pending"
	RecipientStatusSent     RecipientStatus = "sent"
	RecipientStatusViewed   RecipientStatus = "viewed"
	RecipientStatusSigned   RecipientStatus = "signed"
	RecipientStatusDeclined RecipientStatus = "declined"
)

type RoutingStatus string

const (
	RoutingStatusWaiting   RoutingStatus = "waiting"
	RoutingStatusActive    RoutingStatus = "active"
	RoutingStatusCompleted RoutingStatus = "completed"
)

type ReminderStatus string

const (
	ReminderStatusPending ReminderStatus = "pending"
	ReminderStatusSent    ReminderStatus = "sent"
	ReminderStatusSkipped ReminderStatus = "skipped"
	ReminderStatusFailed  ReminderStatus = "failed"
)

// DeliveryStatus tracks the notification outcome separately from the reminder lifecycle.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

const (
	AuditActionReminderSent    = "reminder_sent"
	AuditActionReminderSkipped = "reminder_skipped"
	AuditActionReminderFailed  = "reminder_failed"
)

// DueReminder is a pending reminder joined with its recipient and document.
type DueReminder struct {
	ReminderID       snowflake.ID
	DocumentID       snowflake.ID
	RecipientID      snowflake.ID
	ScheduledAt      time.Time
	DeliveryAttempts int

	OrgID          snowflake.ID
	DocumentTitle  string
	DocumentStatus DocumentStatus
	Message        *string
	SenderName     *string
	RoutingMode    RoutingMode

	RecipientName   string
	RecipientEmail  string
	RecipientStatus RecipientStatus
	RoutingStatus   RoutingStatus
}

// DispatchResult counts reminder outcomes for one dispatcher pass.
type DispatchResult struct {
	Sent     int
	Skipped  int
	Deferred int
	Failed   int
}

func (r DispatchResult) Processed() int {
	return r.Sent + r.Skipped + r.Failed
}
