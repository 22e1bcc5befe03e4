package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/crmjobs/internal/config"
	"github.com/smallbiznis/crmjobs/internal/observability"
	"github.com/smallbiznis/crmjobs/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeTrigger struct {
	invoiceCalls   int
	signatureCalls int
	invoiceResult  scheduler.TriggerResult
	invoiceCtxErr  error
}

func (f *fakeTrigger) TriggerInvoiceJobs(ctx context.Context) scheduler.TriggerResult {
	f.invoiceCalls++
	f.invoiceCtxErr = ctx.Err()
	return f.invoiceResult
}

func (f *fakeTrigger) TriggerSignatureJobs(context.Context) scheduler.TriggerResult {
	f.signatureCalls++
	return scheduler.TriggerResult{Success: true, Message: "Signature reminder jobs completed"}
}

func newTestServer(t *testing.T, cfg config.Config, trigger JobTrigger, log *zap.Logger) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if log == nil {
		log = zap.NewNop()
	}
	return NewServer(ServerParams{
		Engine:  NewEngine(observability.Config{Environment: "test"}, log),
		Config:  cfg,
		Log:     log,
		Trigger: trigger,
	})
}

func doRequest(s *Server, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(HeaderAdminToken, token)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, config.Config{Environment: "production"}, &fakeTrigger{}, nil)

	rec := doRequest(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTriggerInvoiceJobsRequiresAdminToken(t *testing.T) {
	trigger := &fakeTrigger{invoiceResult: scheduler.TriggerResult{Success: true, Message: "Invoice jobs completed"}}
	s := newTestServer(t, config.Config{Environment: "production", AdminToken: "s3cret"}, trigger, nil)

	rec := doRequest(s, http.MethodPost, "/admin/scheduler/invoice-jobs", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodPost, "/admin/scheduler/invoice-jobs", "wrong")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, 0, trigger.invoiceCalls)

	rec = doRequest(s, http.MethodPost, "/admin/scheduler/invoice-jobs", "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)

	var body scheduler.TriggerResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Invoice jobs completed", body.Message)
	assert.Equal(t, 1, trigger.invoiceCalls)
}

func TestAdminRoutesClosedWithoutTokenOutsideDevelopment(t *testing.T) {
	trigger := &fakeTrigger{}
	s := newTestServer(t, config.Config{Environment: "production"}, trigger, nil)

	rec := doRequest(s, http.MethodPost, "/admin/scheduler/signature-reminders", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, 0, trigger.signatureCalls)

	dev := newTestServer(t, config.Config{Environment: "development"}, trigger, nil)
	rec = doRequest(dev, http.MethodPost, "/admin/scheduler/signature-reminders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, trigger.signatureCalls)
}

func TestTriggerFailureReturnsResultBody(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	trigger := &fakeTrigger{invoiceResult: scheduler.TriggerResult{Success: false, Message: "Invoice jobs failed: boom"}}
	s := newTestServer(t, config.Config{Environment: "development"}, trigger, zap.New(core))

	rec := doRequest(s, http.MethodPost, "/admin/scheduler/invoice-jobs", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Invoice jobs failed: boom"}`, rec.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("manual trigger failed").Len())
}

func TestTriggerRunSurvivesClientDisconnect(t *testing.T) {
	trigger := &fakeTrigger{invoiceResult: scheduler.TriggerResult{Success: true, Message: "Invoice jobs completed"}}
	s := newTestServer(t, config.Config{Environment: "development"}, trigger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/admin/scheduler/invoice-jobs", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, trigger.invoiceCalls)
	assert.NoError(t, trigger.invoiceCtxErr)
}
