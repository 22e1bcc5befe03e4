package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LineItem is one entry of a template's stored item list.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

// LineTotals are the computed money columns of an invoice item.
type LineTotals struct {
	Amount    decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// ParseLineItems decodes a template's JSON item list. The payload must be an array;
// a missing or null list is invalid rather than an empty invoice.
func ParseLineItems(raw []byte) ([]LineItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: items must be a JSON array", ErrInvalidLineItems)
	}
	var items []LineItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLineItems, err)
	}
	for i, item := range items {
		if item.Quantity.IsNegative() || item.UnitPrice.IsNegative() || item.TaxRate.IsNegative() {
			return nil, fmt.Errorf("%w: item %d has a negative value", ErrInvalidLineItems, i)
		}
	}
	return items, nil
}

// Totals computes amount = qty * unit_price, tax = amount * tax_rate / 100 and
// total = amount + tax, each rounded to cents.
func (i LineItem) Totals() LineTotals {
	amount := i.Quantity.Mul(i.UnitPrice).Round(2)
	tax := amount.Mul(i.TaxRate).Div(hundred).Round(2)
	return LineTotals{
		Amount:    amount,
		TaxAmount: tax,
		Total:     amount.Add(tax),
	}
}
