package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusViewed    InvoiceStatus = "viewed"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusPartial   InvoiceStatus = "partial"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusRefunded  InvoiceStatus = "refunded"
)

// OverdueCandidateStatuses are the open statuses an invoice may leave for overdue.
var OverdueCandidateStatuses = []InvoiceStatus{
	InvoiceStatusSent,
	InvoiceStatusViewed,
	InvoiceStatusPartial,
}

type TemplateStatus string

const (
	TemplateStatusActive    TemplateStatus = "active"
	TemplateStatusPaused    TemplateStatus = "paused"
	TemplateStatusCompleted TemplateStatus = "completed"
)

const (
	SourceTypeRecurring = "recurring"

	DefaultInvoicePrefix = "INV"
	DefaultPaymentTerms  = 30
)

type Invoice struct {
	ID                  snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID               snowflake.ID    `json:"org_id"`
	InvoiceNumber       string          `json:"invoice_number"`
	ContactID           *snowflake.ID   `json:"contact_id,omitempty"`
	CustomerName        string          `json:"customer_name"`
	CustomerEmail       *string         `json:"customer_email,omitempty"`
	Currency            string          `json:"currency"`
	Status              InvoiceStatus   `json:"status"`
	IssueDate           time.Time       `json:"issue_date"`
	DueDate             time.Time       `json:"due_date"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	TaxAmount           decimal.Decimal `json:"tax_amount"`
	DiscountAmount      decimal.Decimal `json:"discount_amount"`
	Total               decimal.Decimal `json:"total"`
	AmountPaid          decimal.Decimal `json:"amount_paid"`
	AmountDue           decimal.Decimal `json:"amount_due"`
	Notes               *string         `json:"notes,omitempty"`
	SourceType          *string         `json:"source_type,omitempty"`
	RecurringTemplateID *snowflake.ID   `json:"recurring_template_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

type InvoiceItem struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID   snowflake.ID    `json:"invoice_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Amount      decimal.Decimal `json:"amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Total       decimal.Decimal `json:"total"`
	SortOrder   int             `json:"sort_order"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (InvoiceItem) TableName() string { return "invoice_items" }

type RecurringTemplate struct {
	ID                snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID             snowflake.ID    `json:"org_id"`
	ContactID         *snowflake.ID   `json:"contact_id,omitempty"`
	CustomerName      string          `json:"customer_name"`
	CustomerEmail     *string         `json:"customer_email,omitempty"`
	Currency          string          `json:"currency"`
	Items             datatypes.JSON  `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	Total             decimal.Decimal `json:"total"`
	Notes             *string         `json:"notes,omitempty"`
	Frequency         Frequency       `json:"frequency"`
	NextRunDate       time.Time       `json:"next_run_date"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	PaymentTerms      *int            `json:"payment_terms,omitempty"`
	Status            TemplateStatus  `json:"status"`
	LastRunDate       *time.Time      `json:"last_run_date,omitempty"`
	InvoicesGenerated int             `json:"invoices_generated"`
}

func (RecurringTemplate) TableName() string { return "recurring_invoice_templates" }

// PaymentSettings holds the per-tenant invoice numbering counter.
// NextInvoiceNumber is the next sequence value available for consumption.
type PaymentSettings struct {
	OrgID               snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	InvoicePrefix       string
	NextInvoiceNumber   int64
	DefaultPaymentTerms int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (PaymentSettings) TableName() string { return "payment_settings" }

// OverdueInvoice is a row moved to overdue by a sweep.
type OverdueInvoice struct {
	ID             snowflake.ID
	OrgID          snowflake.ID
	InvoiceNumber  string
	PreviousStatus InvoiceStatus
	DueDate        time.Time
	AmountDue      decimal.Decimal
}

// GeneratedInvoice identifies an invoice spawned from a recurring template.
type GeneratedInvoice struct {
	TemplateID        snowflake.ID
	InvoiceID         snowflake.ID
	InvoiceNumber     string
	OrgID             snowflake.ID
	NextRunDate       time.Time
	TemplateCompleted bool
}

type TemplateFailure struct {
	TemplateID snowflake.ID
	OrgID      snowflake.ID
	Err        error
}

// RecurringRunResult reports one generator pass; failures never abort the pass.
type RecurringRunResult struct {
	Generated []GeneratedInvoice
	Failed    []TemplateFailure
}
