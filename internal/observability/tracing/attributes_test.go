package tracing

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("job", "signature_reminders"),
		attribute.String("signing_token", "abc"),
		attribute.String("recipient_email", "a@example.com"),
	)
	if len(attrs) != 1 || attrs[0].Key != "job" {
		t.Fatalf("expected only job attribute, got %v", attrs)
	}
}

func TestSafeErrorHidesMessage(t *testing.T) {
	err := SafeError(errors.New("token abc leaked"))
	if err.Error() != "*errors.errorString" {
		t.Fatalf("expected type-only error, got %q", err.Error())
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
