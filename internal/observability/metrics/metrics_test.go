package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("recipient_email", "a@example.com"),
		attribute.String("outcome", "sent"),
		attribute.String("frequency", "monthly"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "org_id" || attr.Key == "recipient_email" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordInvoiceGenerated(context.Background(), "monthly")
	m.RecordReminder(context.Background(), "sent")
	m.RecordNotificationError(context.Background(), "email")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "crmjobs"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("expected instruments, got %v", err)
	}
	m.RecordInvoicesOverdue(context.Background(), 3)
	m.RecordEstimatesExpired(context.Background(), 0)
}
