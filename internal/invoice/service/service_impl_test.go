package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/crmjobs/internal/clock"
	invoicedomain "github.com/smallbiznis/crmjobs/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testOrgID = snowflake.ID(1001)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func setupInvoiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	stmts := []string{
		`CREATE TABLE payment_settings (
			org_id INTEGER PRIMARY KEY,
			invoice_prefix TEXT NOT NULL DEFAULT 'INV',
			next_invoice_number INTEGER NOT NULL DEFAULT 1,
			default_payment_terms INTEGER NOT NULL DEFAULT 30,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE recurring_invoice_templates (
			id INTEGER PRIMARY KEY,
			org_id INTEGER NOT NULL,
			contact_id INTEGER,
			customer_name TEXT NOT NULL,
			customer_email TEXT,
			currency TEXT NOT NULL,
			items TEXT NOT NULL DEFAULT '[]',
			subtotal NUMERIC NOT NULL DEFAULT '0',
			tax_amount NUMERIC NOT NULL DEFAULT '0',
			discount_amount NUMERIC NOT NULL DEFAULT '0',
			total NUMERIC NOT NULL DEFAULT '0',
			notes TEXT,
			frequency TEXT NOT NULL,
			next_run_date DATETIME NOT NULL,
			end_date DATETIME,
			payment_terms INTEGER,
			status TEXT NOT NULL,
			last_run_date DATETIME,
			invoices_generated INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME
		)`,
		`CREATE TABLE invoices (
			id INTEGER PRIMARY KEY,
			org_id INTEGER NOT NULL,
			invoice_number TEXT NOT NULL,
			contact_id INTEGER,
			customer_name TEXT NOT NULL,
			customer_email TEXT,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			issue_date DATETIME NOT NULL,
			due_date DATETIME NOT NULL,
			subtotal NUMERIC NOT NULL DEFAULT '0',
			tax_amount NUMERIC NOT NULL DEFAULT '0',
			discount_amount NUMERIC NOT NULL DEFAULT '0',
			total NUMERIC NOT NULL DEFAULT '0',
			amount_paid NUMERIC NOT NULL DEFAULT '0',
			amount_due NUMERIC NOT NULL DEFAULT '0',
			notes TEXT,
			source_type TEXT,
			recurring_template_id INTEGER,
			created_at DATETIME,
			updated_at DATETIME,
			UNIQUE (org_id, invoice_number)
		)`,
		`CREATE TABLE invoice_items (
			id INTEGER PRIMARY KEY,
			invoice_id INTEGER NOT NULL,
			description TEXT NOT NULL,
			quantity NUMERIC NOT NULL,
			unit_price NUMERIC NOT NULL,
			tax_rate NUMERIC NOT NULL,
			amount NUMERIC NOT NULL,
			tax_amount NUMERIC NOT NULL,
			total NUMERIC NOT NULL,
			sort_order INTEGER NOT NULL,
			created_at DATETIME
		)`,
	}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)),
	})
	return svc.(*Service)
}

type templateSeed struct {
	ID          snowflake.ID
	Frequency   invoicedomain.Frequency
	NextRunDate time.Time
	EndDate     *time.Time
	Terms       *int
	Items       string
	Status      invoicedomain.TemplateStatus
}

func insertTemplate(t *testing.T, db *gorm.DB, seed templateSeed) {
	t.Helper()
	if seed.Status == "" {
		seed.Status = invoicedomain.TemplateStatusActive
	}
	if seed.Items == "" {
		seed.Items = `[{"description":"Retainer","quantity":2,"unit_price":"150.00","tax_rate":10}]`
	}
	require.NoError(t, db.Exec(
		`INSERT INTO recurring_invoice_templates (
			id, org_id, customer_name, customer_email, currency, items,
			subtotal, tax_amount, total, frequency, next_run_date, end_date,
			payment_terms, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seed.ID, testOrgID, "Acme Ltd", "billing@acme.test", "USD", seed.Items,
		decimal.RequireFromString("300"), decimal.RequireFromString("30"), decimal.RequireFromString("330"),
		seed.Frequency, seed.NextRunDate, seed.EndDate, seed.Terms, seed.Status,
	).Error)
}

func insertInvoice(t *testing.T, db *gorm.DB, id snowflake.ID, number string, status invoicedomain.InvoiceStatus, due time.Time) {
	t.Helper()
	insertInvoiceWithBalance(t, db, id, number, status, due, decimal.RequireFromString("100"))
}

func insertInvoiceWithBalance(t *testing.T, db *gorm.DB, id snowflake.ID, number string, status invoicedomain.InvoiceStatus, due time.Time, amountDue decimal.Decimal) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO invoices (id, org_id, invoice_number, customer_name, currency, status, issue_date, due_date, total, amount_due)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, testOrgID, number, "Acme Ltd", "USD", status, due.AddDate(0, 0, -30), due,
		decimal.RequireFromString("100"), amountDue,
	).Error)
}

type templateState struct {
	NextRunDate       time.Time
	Status            string
	InvoicesGenerated int
}

func loadTemplate(t *testing.T, db *gorm.DB, id snowflake.ID) templateState {
	t.Helper()
	var row templateState
	require.NoError(t, db.Raw(
		`SELECT next_run_date, status, invoices_generated FROM recurring_invoice_templates WHERE id = ?`, id,
	).Scan(&row).Error)
	return row
}

func counterValue(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var next int64
	require.NoError(t, db.Raw(`SELECT next_invoice_number FROM payment_settings WHERE org_id = ?`, testOrgID).Scan(&next).Error)
	return next
}

func TestGenerateRecurringCreatesInvoiceAndAdvancesTemplate(t *testing.T) {
	db := setupInvoiceDB(t)
	svc := newTestService(t, db)
	insertTemplate(t, db, templateSeed{ID: 10, Frequency: invoicedomain.FrequencyMonthly, NextRunDate: day(2024, 1, 15)})

	result, err := svc.GenerateRecurring(context.Background(), day(2024, 1, 15))
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	require.Len(t, result.Generated, 1)
	assert.Equal(t, "INV-00001", result.Generated[0].InvoiceNumber)
	assert.False(t, result.Generated[0].TemplateCompleted)

	var invoice struct {
		Status              string
		IssueDate           time.Time
		DueDate             time.Time
		AmountDue           decimal.Decimal
		SourceType          string
		RecurringTemplateID int64
	}
	require.NoError(t, db.Raw(
		`SELECT status, issue_date, due_date, amount_due, source_type, recurring_template_id FROM invoices WHERE id = ?`,
		result.Generated[0].InvoiceID,
	).Scan(&invoice).Error)
	assert.Equal(t, "draft", invoice.Status)
	assert.Equal(t, "2024-01-15", invoice.IssueDate.UTC().Format("2006-01-02"))
	assert.Equal(t, "2024-02-14", invoice.DueDate.UTC().Format("2006-01-02"))
	assert.True(t, invoice.AmountDue.Equal(decimal.RequireFromString("330")))
	assert.Equal(t, "recurring", invoice.SourceType)
	assert.Equal(t, int64(10), invoice.RecurringTemplateID)

	var items []struct {
		Description string
		Amount      decimal.Decimal
		TaxAmount   decimal.Decimal
		Total       decimal.Decimal
		SortOrder   int
	}
	require.NoError(t, db.Raw(
		`SELECT description, amount, tax_amount, total, sort_order FROM invoice_items WHERE invoice_id = ? ORDER BY sort_order`,
		result.Generated[0].InvoiceID,
	).Scan(&items).Error)
	require.Len(t, items, 1)
	assert.Equal(t, "Retainer", items[0].Description)
	assert.True(t, items[0].Amount.Equal(decimal.RequireFromString("300")))
	assert.True(t, items[0].TaxAmount.Equal(decimal.RequireFromString("30")))
	assert.True(t, items[0].Total.Equal(decimal.RequireFromString("330")))

	tpl := loadTemplate(t, db, 10)
	assert.Equal(t, "2024-02-15", tpl.NextRunDate.UTC().Format("2006-01-02"))
	assert.Equal(t, "active", tpl.Status)
	assert.Equal(t, 1, tpl.InvoicesGenerated)
	assert.Equal(t, int64(2), counterValue(t, db))
}

func TestGenerateRecurringCompletesTemplatePastEndDate(t *testing.T) {
	db := setupInvoiceDB(t)
	svc := newTestService(t, db)
	end := day(2024, 1, 20)
	insertTemplate(t, db, templateSeed{ID: 11, Frequency: invoicedomain.FrequencyMonthly, NextRunDate: day(2024, 1, 15), EndDate: &end})

	result, err := svc.GenerateRecurring(context.Background(), day(2024, 1, 15))
	require.NoError(t, err)
	require.Len(t, result.Generated, 1)
	assert.True(t, result.Generated[0].TemplateCompleted)

	tpl := loadTemplate(t, db, 11)
	assert.Equal(t, "completed", tpl.Status)
	assert.Equal(t, "2024-01-20", tpl.NextRunDate.UTC().Format("2006-01-02"))

	again, err := svc.GenerateRecurring(context.Background(), day(2024, 1, 20))
	require.NoError(t, err)
	assert.Empty(t, again.Generated)
}

func TestGenerateRecurringIsolatesTemplateFailures(t *testing.T) {
	db := setupInvoiceDB(t)
	svc := newTestService(t, db)
	require.NoError(t, db.Exec(
		`INSERT INTO payment_settings (org_id, invoice_prefix, next_invoice_number, default_payment_terms) VALUES (?, 'INV', 7, 30)`,
		testOrgID,
	).Error)
	insertTemplate(t, db, templateSeed{ID: 20, Frequency: invoicedomain.FrequencyMonthly, NextRunDate: day(2024, 1, 10), Items: `not-json`})
	insertTemplate(t, db, templateSeed{ID: 21, Frequency: invoicedomain.FrequencyWeekly, NextRunDate: day(2024, 1, 15)})

	result, err := svc.GenerateRecurring(context.Background(), day(2024, 1, 15))
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, snowflake.ID(20), result.Failed[0].TemplateID)
	assert.True(t, errors.Is(result.Failed[0].Err, invoicedomain.ErrInvalidLineItems))

	require.Len(t, result.Generated, 1)
	assert.Equal(t, "INV-00007", result.Generated[0].InvoiceNumber)
	assert.Equal(t, int64(8), counterValue(t, db))

	failed := loadTemplate(t, db, 20)
	assert.Equal(t, "2024-01-10", failed.NextRunDate.UTC().Format("2006-01-02"))
	assert.Equal(t, 0, failed.InvoicesGenerated)

	var orphanCount int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM invoices WHERE recurring_template_id = ?`, 20).Scan(&orphanCount).Error)
	assert.Zero(t, orphanCount)
}

func TestGenerateRecurringRejectsNullItems(t *testing.T) {
	db := setupInvoiceDB(t)
	svc := newTestService(t, db)
	require.NoError(t, db.Exec(
		`INSERT INTO payment_settings (org_id, invoice_prefix, next_invoice_number, default_payment_terms) VALUES (?, 'INV', 7, 30)`,
		testOrgID,
	).Error)
	insertTemplate(t, db, templateSeed{ID: 22, Frequency: invoicedomain.FrequencyMonthly, NextRunDate: day(2024, 1, 15), Items: `null`})

	result, err := svc.GenerateRecurring(context.Background(), day(2024, 1, 15))
	require.NoError(t, err)
	assert.Empty(t, result.Generated)
	require.Len(t, result.Failed, 1)
	assert.True(t, errors.Is(result.Failed[0].Err, invoicedomain.ErrInvalidLineItems))
	assert.Equal(t, int64(7), counterValue(t, db))

	var invoiceCount int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM invoices WHERE recurring_template_id = ?`, 22).Scan(&invoiceCount).Error)
	assert.Zero(t, invoiceCount)
	assert.Equal(t, "2024-01-15", loadTemplate(t, db, 22).NextRunDate.UTC().Format("2006-01-02"))
}

func TestGenerateRecurringNumbersAreConsecutiveWithinTenant(t *testing.T) {
	db := setupInvoiceDB(t)
	svc := newTestService(t, db)
	terms := 14
	insertTemplate(t, db, templateSeed{ID: 30, Frequency: invoicedomain.FrequencyMonthly, NextRunDate: day(2024, 1, 14), Terms: &terms})
	insertTemplate(t, db, templateSeed{ID: 31, Frequency: invoicedomain.FrequencyQuarterly, NextRunDate: day(2024, 1, 15)})

	result, err := svc.GenerateRecurring(context.Background(), day(2024, 1, 15))
	require.NoError(t, err)
	require.Len(t, result.Generated, 2)
	assert.Equal(t, "INV-00001", result.Generated[0].InvoiceNumber)
	assert.Equal(t, "INV-00002", result.Generated[1].InvoiceNumber)

	var due time.Time
	require.NoError(t, db.Raw(`SELECT due_date FROM invoices WHERE id = ?`, result.Generated[0].InvoiceID).Scan(&due).Error)
	assert.Equal(t, "2024-01-29", due.UTC().Format("2006-01-02"))

	quarterly := loadTemplate(t, db, 31)
	assert.Equal(t, "2024-04-15", quarterly.NextRunDate.UTC().Format("2006-01-02"))
}

func TestGenerateRecurringSkipsPausedAndFutureTemplates(t *testing.T) {
	db := setupInvoiceDB(t)
	svc := newTestService(t, db)
	insertTemplate(t, db, templateSeed{ID: 40, Frequency: invoicedomain.FrequencyMonthly, NextRunDate: day(2024, 1, 16)})
	insertTemplate(t, db, templateSeed{ID: 41, Frequency: invoicedomain.FrequencyMonthly, NextRunDate: day(2024, 1, 1), Status: invoicedomain.TemplateStatusPaused})

	result, err := svc.GenerateRecurring(context.Background(), day(2024, 1, 15))
	require.NoError(t, err)
	assert.Empty(t, result.Generated)
	assert.Empty(t, result.Failed)
}

func TestGenerateRecurringRollsBackOnNumberCollision(t *testing.T) {
	db := setupInvoiceDB(t)
	svc := newTestService(t, db)
	insertInvoice(t, db, 900, "INV-00001", invoicedomain.InvoiceStatusSent, day(2024, 2, 1))
	insertTemplate(t, db, templateSeed{ID: 50, Frequency: invoicedomain.FrequencyMonthly, NextRunDate: day(2024, 1, 15)})

	result, err := svc.GenerateRecurring(context.Background(), day(2024, 1, 15))
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.True(t, errors.Is(result.Failed[0].Err, invoicedomain.ErrInvoiceNumberTaken))

	var settingsRows int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payment_settings`).Scan(&settingsRows).Error)
	assert.Zero(t, settingsRows)
	assert.Equal(t, "2024-01-15", loadTemplate(t, db, 50).NextRunDate.UTC().Format("2006-01-02"))
}

func TestAdvanceTemplateDetectsConcurrentAdvance(t *testing.T) {
	db := setupInvoiceDB(t)
	svc := newTestService(t, db)
	insertTemplate(t, db, templateSeed{ID: 60, Frequency: invoicedomain.FrequencyMonthly, NextRunDate: day(2024, 2, 15)})

	stale := invoicedomain.RecurringTemplate{ID: 60, NextRunDate: day(2024, 1, 15)}
	advance := invoicedomain.ScheduleAdvance{NextRunDate: day(2024, 2, 15), Status: invoicedomain.TemplateStatusActive}
	err := svc.advanceTemplate(context.Background(), db, stale, advance, day(2024, 1, 15), time.Now().UTC())
	assert.True(t, errors.Is(err, invoicedomain.ErrTemplateAdvanced))
}

func TestMarkOverdueIsIdempotent(t *testing.T) {
	db := setupInvoiceDB(t)
	svc := newTestService(t, db)
	today := day(2024, 1, 15)
	insertInvoice(t, db, 1, "INV-00001", invoicedomain.InvoiceStatusSent, day(2024, 1, 14))
	insertInvoice(t, db, 2, "INV-00002", invoicedomain.InvoiceStatusPartial, day(2024, 1, 8))
	insertInvoice(t, db, 3, "INV-00003", invoicedomain.InvoiceStatusViewed, today)
	insertInvoice(t, db, 4, "INV-00004", invoicedomain.InvoiceStatusPaid, day(2024, 1, 1))
	insertInvoice(t, db, 5, "INV-00005", invoicedomain.InvoiceStatusDraft, day(2024, 1, 1))
	insertInvoiceWithBalance(t, db, 6, "INV-00006", invoicedomain.InvoiceStatusSent, day(2024, 1, 1), decimal.RequireFromString("0.00"))

	marked, err := svc.MarkOverdue(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, marked, 2)
	assert.Equal(t, snowflake.ID(2), marked[0].ID)
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, marked[0].PreviousStatus)
	assert.Equal(t, snowflake.ID(1), marked[1].ID)

	var statuses []struct {
		ID     int64
		Status string
	}
	require.NoError(t, db.Raw(`SELECT id, status FROM invoices ORDER BY id`).Scan(&statuses).Error)
	got := map[int64]string{}
	for _, row := range statuses {
		got[row.ID] = row.Status
	}
	assert.Equal(t, map[int64]string{1: "overdue", 2: "overdue", 3: "viewed", 4: "paid", 5: "draft", 6: "sent"}, got)

	again, err := svc.MarkOverdue(context.Background(), today)
	require.NoError(t, err)
	assert.Empty(t, again)
}
