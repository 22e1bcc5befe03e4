package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes domain-level instruments for the background jobs.
type Metrics struct {
	invoicesGenerated   metric.Int64Counter
	invoicesOverdue     metric.Int64Counter
	estimatesExpired    metric.Int64Counter
	remindersDispatched metric.Int64Counter
	notificationErrors  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "crmjobs"
	}
	meter := provider.Meter(name)

	invoicesGenerated, err := meter.Int64Counter("crm_recurring_invoices_generated_total")
	if err != nil {
		return nil, err
	}
	invoicesOverdue, err := meter.Int64Counter("crm_invoices_overdue_total")
	if err != nil {
		return nil, err
	}
	estimatesExpired, err := meter.Int64Counter("crm_estimates_expired_total")
	if err != nil {
		return nil, err
	}
	remindersDispatched, err := meter.Int64Counter("crm_signature_reminders_total")
	if err != nil {
		return nil, err
	}
	notificationErrors, err := meter.Int64Counter("crm_notification_errors_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesGenerated:   invoicesGenerated,
		invoicesOverdue:     invoicesOverdue,
		estimatesExpired:    estimatesExpired,
		remindersDispatched: remindersDispatched,
		notificationErrors:  notificationErrors,
	}, nil
}

// RecordInvoiceGenerated counts one invoice spawned from a recurring template.
func (m *Metrics) RecordInvoiceGenerated(ctx context.Context, frequency string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("frequency", strings.TrimSpace(frequency)))
	m.invoicesGenerated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInvoicesOverdue(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.invoicesOverdue.Add(ctx, int64(count))
}

func (m *Metrics) RecordEstimatesExpired(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.estimatesExpired.Add(ctx, int64(count))
}

// RecordReminder counts reminder outcomes (sent, skipped, deferred, failed).
func (m *Metrics) RecordReminder(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.remindersDispatched.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordNotificationError(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("channel", strings.TrimSpace(channel)))
	m.notificationErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"frequency": {},
	"outcome":   {},
	"channel":   {},
	"job":       {},
	"reason":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
