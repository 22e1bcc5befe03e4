package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/crmjobs/internal/clock"
	"github.com/smallbiznis/crmjobs/internal/config"
	signaturedomain "github.com/smallbiznis/crmjobs/internal/signature/domain"
	"github.com/smallbiznis/crmjobs/internal/signature/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []signaturedomain.ReminderNotification
	err  error
}

func (f *fakeNotifier) SendSignatureReminder(_ context.Context, n signaturedomain.ReminderNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func setupSignatureDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	stmts := []string{
		`CREATE TABLE signature_documents (
			id INTEGER PRIMARY KEY,
			org_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			message TEXT,
			sender_name TEXT,
			routing_mode TEXT NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE signature_recipients (
			id INTEGER PRIMARY KEY,
			document_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			signing_order INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL,
			routing_status TEXT NOT NULL,
			token_hash TEXT,
			token_expires_at DATETIME,
			sent_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE signature_reminders (
			id INTEGER PRIMARY KEY,
			document_id INTEGER NOT NULL,
			recipient_id INTEGER NOT NULL,
			scheduled_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			delivery_status TEXT NOT NULL DEFAULT 'pending',
			delivery_attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			sent_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE signature_audit_log (
			id INTEGER PRIMARY KEY,
			document_id INTEGER NOT NULL,
			recipient_id INTEGER,
			action TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, notifier signaturedomain.Notifier) *Service {
	t.Helper()
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	cfg := config.Config{AppBaseURL: "https://crm.example.com/"}
	cfg.Signature.TokenTTL = 48 * time.Hour
	cfg.Signature.MaxDeliveryAttempts = 2
	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(testNow),
		Config:   cfg,
		Notifier: notifier,
	})
	return svc.(*Service)
}

func seedDocument(t *testing.T, db *gorm.DB, id int64, mode signaturedomain.RoutingMode, status signaturedomain.DocumentStatus) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO signature_documents (id, org_id, title, message, sender_name, routing_mode, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, 77, "Master Services Agreement", "Please review and sign.", "Dana Sender", mode, status,
	).Error)
}

func seedRecipient(t *testing.T, db *gorm.DB, id, documentID int64, order int, status signaturedomain.RecipientStatus, routing signaturedomain.RoutingStatus) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO signature_recipients (id, document_id, name, email, signing_order, status, routing_status, token_hash) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, documentID, fmt.Sprintf("Signer %d", id), fmt.Sprintf("signer%d@example.com", id), order, status, routing, "old-hash",
	).Error)
}

func seedReminder(t *testing.T, db *gorm.DB, id, documentID, recipientID int64, scheduledAt time.Time) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO signature_reminders (id, document_id, recipient_id, scheduled_at) VALUES (?, ?, ?, ?)`,
		id, documentID, recipientID, scheduledAt,
	).Error)
}

type reminderState struct {
	Status           string
	DeliveryStatus   string
	DeliveryAttempts int
	LastError        *string
}

func loadReminder(t *testing.T, db *gorm.DB, id int64) reminderState {
	t.Helper()
	var row reminderState
	require.NoError(t, db.Raw(
		`SELECT status, delivery_status, delivery_attempts, last_error FROM signature_reminders WHERE id = ?`, id,
	).Scan(&row).Error)
	return row
}

type recipientState struct {
	Status         string
	TokenHash      *string
	TokenExpiresAt *time.Time
	SentAt         *time.Time
}

func loadRecipient(t *testing.T, db *gorm.DB, id int64) recipientState {
	t.Helper()
	var row recipientState
	require.NoError(t, db.Raw(
		`SELECT status, token_hash, token_expires_at, sent_at FROM signature_recipients WHERE id = ?`, id,
	).Scan(&row).Error)
	return row
}

func auditActions(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var actions []string
	require.NoError(t, db.Raw(`SELECT action FROM signature_audit_log ORDER BY id`).Scan(&actions).Error)
	return actions
}

func TestDispatchRemindersSequentialSendsOnlyActiveSigner(t *testing.T) {
	db := setupSignatureDB(t)
	notifier := &fakeNotifier{}
	svc := newTestService(t, db, notifier)

	seedDocument(t, db, 1, signaturedomain.RoutingModeSequential, signaturedomain.DocumentStatusPending)
	seedRecipient(t, db, 11, 1, 1, signaturedomain.RecipientStatusPending, signaturedomain.RoutingStatusActive)
	seedRecipient(t, db, 12, 1, 2, signaturedomain.RecipientStatusPending, signaturedomain.RoutingStatusWaiting)
	seedReminder(t, db, 101, 1, 11, testNow.Add(-time.Hour))
	seedReminder(t, db, 102, 1, 12, testNow.Add(-time.Hour))

	result, err := svc.DispatchReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signaturedomain.DispatchResult{Sent: 1, Deferred: 1}, result)

	require.Len(t, notifier.sent, 1)
	sent := notifier.sent[0]
	assert.Equal(t, "signer11@example.com", sent.To)
	assert.Equal(t, "Signer 11", sent.RecipientName)
	assert.Equal(t, "Master Services Agreement", sent.DocumentTitle)
	assert.Equal(t, "Dana Sender", sent.SenderName)
	assert.Equal(t, "Please review and sign.", sent.Message)
	assert.True(t, sent.ExpiresAt.Equal(testNow.Add(48*time.Hour)))
	require.True(t, strings.HasPrefix(sent.SigningURL, "https://crm.example.com/sign/"))

	raw := strings.TrimPrefix(sent.SigningURL, "https://crm.example.com/sign/")
	r1 := loadRecipient(t, db, 11)
	assert.Equal(t, "sent", r1.Status)
	require.NotNil(t, r1.TokenHash)
	assert.Equal(t, token.Hash(raw), *r1.TokenHash)
	require.NotNil(t, r1.SentAt)
	require.NotNil(t, r1.TokenExpiresAt)

	delivered := loadReminder(t, db, 101)
	assert.Equal(t, "sent", delivered.Status)
	assert.Equal(t, "delivered", delivered.DeliveryStatus)
	assert.Equal(t, 1, delivered.DeliveryAttempts)

	untouched := loadReminder(t, db, 102)
	assert.Equal(t, "pending", untouched.Status)
	assert.Equal(t, "pending", untouched.DeliveryStatus)
	assert.Equal(t, 0, untouched.DeliveryAttempts)
	r2 := loadRecipient(t, db, 12)
	assert.Equal(t, "pending", r2.Status)
	require.NotNil(t, r2.TokenHash)
	assert.Equal(t, "old-hash", *r2.TokenHash)

	assert.Equal(t, []string{signaturedomain.AuditActionReminderSent}, auditActions(t, db))
}

func TestDispatchRemindersSendsOneEmailPerRecipient(t *testing.T) {
	db := setupSignatureDB(t)
	notifier := &fakeNotifier{}
	svc := newTestService(t, db, notifier)

	seedDocument(t, db, 6, signaturedomain.RoutingModeParallel, signaturedomain.DocumentStatusPending)
	seedRecipient(t, db, 61, 6, 1, signaturedomain.RecipientStatusPending, signaturedomain.RoutingStatusActive)
	seedReminder(t, db, 601, 6, 61, testNow.Add(-2*time.Hour))
	seedReminder(t, db, 602, 6, 61, testNow.Add(-time.Hour))

	result, err := svc.DispatchReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signaturedomain.DispatchResult{Sent: 2}, result)

	require.Len(t, notifier.sent, 1)
	raw := strings.TrimPrefix(notifier.sent[0].SigningURL, "https://crm.example.com/sign/")
	recipient := loadRecipient(t, db, 61)
	require.NotNil(t, recipient.TokenHash)
	assert.Equal(t, token.Hash(raw), *recipient.TokenHash)

	for _, id := range []int64{601, 602} {
		state := loadReminder(t, db, id)
		assert.Equal(t, "sent", state.Status)
		assert.Equal(t, "delivered", state.DeliveryStatus)
	}
	assert.Equal(t, []string{signaturedomain.AuditActionReminderSent, signaturedomain.AuditActionReminderSent}, auditActions(t, db))
}

func TestDispatchRemindersSkipsSignedRecipient(t *testing.T) {
	db := setupSignatureDB(t)
	notifier := &fakeNotifier{}
	svc := newTestService(t, db, notifier)

	seedDocument(t, db, 2, signaturedomain.RoutingModeParallel, signaturedomain.DocumentStatusPending)
	seedRecipient(t, db, 21, 2, 1, signaturedomain.RecipientStatusSigned, signaturedomain.RoutingStatusCompleted)
	seedReminder(t, db, 201, 2, 21, testNow.Add(-time.Minute))

	result, err := svc.DispatchReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signaturedomain.DispatchResult{Skipped: 1}, result)
	assert.Empty(t, notifier.sent)
	assert.Equal(t, "skipped", loadReminder(t, db, 201).Status)
	assert.Equal(t, []string{signaturedomain.AuditActionReminderSkipped}, auditActions(t, db))

	again, err := svc.DispatchReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signaturedomain.DispatchResult{}, again)
}

func TestDispatchRemindersSkipsClosedDocumentsAndIgnoresFutureReminders(t *testing.T) {
	db := setupSignatureDB(t)
	notifier := &fakeNotifier{}
	svc := newTestService(t, db, notifier)

	seedDocument(t, db, 3, signaturedomain.RoutingModeParallel, signaturedomain.DocumentStatusVoided)
	seedRecipient(t, db, 31, 3, 1, signaturedomain.RecipientStatusSent, signaturedomain.RoutingStatusActive)
	seedReminder(t, db, 301, 3, 31, testNow.Add(-time.Minute))

	seedDocument(t, db, 4, signaturedomain.RoutingModeParallel, signaturedomain.DocumentStatusPending)
	seedRecipient(t, db, 41, 4, 1, signaturedomain.RecipientStatusSent, signaturedomain.RoutingStatusActive)
	seedReminder(t, db, 401, 4, 41, testNow.Add(time.Hour))

	result, err := svc.DispatchReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signaturedomain.DispatchResult{Skipped: 1}, result)
	assert.Empty(t, notifier.sent)
	assert.Equal(t, "skipped", loadReminder(t, db, 301).Status)
	assert.Equal(t, "pending", loadReminder(t, db, 401).Status)
}

func TestDispatchRemindersRecordsDeliveryFailure(t *testing.T) {
	db := setupSignatureDB(t)
	notifier := &fakeNotifier{err: errors.New("smtp: connection refused")}
	svc := newTestService(t, db, notifier)

	seedDocument(t, db, 5, signaturedomain.RoutingModeParallel, signaturedomain.DocumentStatusPending)
	seedRecipient(t, db, 51, 5, 1, signaturedomain.RecipientStatusPending, signaturedomain.RoutingStatusWaiting)
	seedReminder(t, db, 501, 5, 51, testNow.Add(-time.Minute))

	result, err := svc.DispatchReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signaturedomain.DispatchResult{Failed: 1}, result)

	first := loadReminder(t, db, 501)
	assert.Equal(t, "pending", first.Status)
	assert.Equal(t, "failed", first.DeliveryStatus)
	assert.Equal(t, 1, first.DeliveryAttempts)
	require.NotNil(t, first.LastError)
	assert.Contains(t, *first.LastError, "connection refused")
	assert.Empty(t, auditActions(t, db))

	result, err = svc.DispatchReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signaturedomain.DispatchResult{Failed: 1}, result)

	second := loadReminder(t, db, 501)
	assert.Equal(t, "failed", second.Status)
	assert.Equal(t, 2, second.DeliveryAttempts)
	assert.Equal(t, []string{signaturedomain.AuditActionReminderFailed}, auditActions(t, db))

	notifier.err = nil
	result, err = svc.DispatchReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signaturedomain.DispatchResult{}, result)
}

func TestDispatchRemindersWithoutNotifierFailsDelivery(t *testing.T) {
	db := setupSignatureDB(t)
	svc := newTestService(t, db, nil)

	seedDocument(t, db, 6, signaturedomain.RoutingModeParallel, signaturedomain.DocumentStatusPending)
	seedRecipient(t, db, 61, 6, 1, signaturedomain.RecipientStatusViewed, signaturedomain.RoutingStatusActive)
	seedReminder(t, db, 601, 6, 61, testNow)

	result, err := svc.DispatchReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	state := loadReminder(t, db, 601)
	require.NotNil(t, state.LastError)
	assert.Equal(t, signaturedomain.ErrNotifierUnavailable.Error(), *state.LastError)
}
