package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type EstimateStatus string

const (
	EstimateStatusDraft    EstimateStatus = "draft"
	EstimateStatusSent     EstimateStatus = "sent"
	EstimateStatusAccepted EstimateStatus = "accepted"
	EstimateStatusDeclined EstimateStatus = "declined"
	EstimateStatusExpired  EstimateStatus = "expired"
)

type Estimate struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID    `json:"org_id"`
	EstimateNumber string          `json:"estimate_number"`
	CustomerName   string          `json:"customer_name"`
	Status         EstimateStatus  `json:"status"`
	ValidUntil     *time.Time      `json:"valid_until,omitempty"`
	Total          decimal.Decimal `json:"total"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Estimate) TableName() string { return "estimates" }

// ExpiredEstimate is a row moved from sent to expired by a sweep.
type ExpiredEstimate struct {
	ID             snowflake.ID
	OrgID          snowflake.ID
	EstimateNumber string
	ValidUntil     time.Time
}

type Service interface {
	// ExpireEstimates moves sent estimates whose valid_until is before today to expired.
	ExpireEstimates(ctx context.Context, today time.Time) ([]ExpiredEstimate, error)
}
