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

// Metrics exposes application-level instruments.
type Metrics struct {
	invoiceLines         metric.Int64Counter
	invoiceNumbers       metric.Int64Counter
	ledgerTransactions   metric.Int64Counter
	settlementsClosed    metric.Int64Counter
	settlementRejections metric.Int64Counter
	reportFailures       metric.Int64Counter
	jobRuns              metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "noble-ledger"
	}
	meter := provider.Meter(name)

	invoiceLines, err := meter.Int64Counter("noble_invoice_lines_total")
	if err != nil {
		return nil, err
	}
	invoiceNumbers, err := meter.Int64Counter("noble_invoice_numbers_total")
	if err != nil {
		return nil, err
	}
	ledgerTransactions, err := meter.Int64Counter("noble_ledger_transactions_total")
	if err != nil {
		return nil, err
	}
	settlementsClosed, err := meter.Int64Counter("noble_settlements_closed_total")
	if err != nil {
		return nil, err
	}
	settlementRejections, err := meter.Int64Counter("noble_settlement_rejections_total")
	if err != nil {
		return nil, err
	}
	reportFailures, err := meter.Int64Counter("noble_report_failures_total")
	if err != nil {
		return nil, err
	}

	jobRuns, err := meter.Int64Counter("noble_scheduler_job_runs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoiceLines:         invoiceLines,
		invoiceNumbers:       invoiceNumbers,
		ledgerTransactions:   ledgerTransactions,
		settlementsClosed:    settlementsClosed,
		settlementRejections: settlementRejections,
		reportFailures:       reportFailures,
		jobRuns:              jobRuns,
	}, nil
}

// RecordInvoiceLine counts a committed invoice line.
func (m *Metrics) RecordInvoiceLine(ctx context.Context, procedure, category string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("procedure", strings.TrimSpace(procedure)),
		attribute.String("category", strings.TrimSpace(category)),
	)
	m.invoiceLines.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvoiceNumber counts a newly assigned invoice number.
func (m *Metrics) RecordInvoiceNumber(ctx context.Context, clinicID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("clinic_id", strings.TrimSpace(clinicID)))
	m.invoiceNumbers.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerTransaction counts an appended payment transaction.
func (m *Metrics) RecordLedgerTransaction(ctx context.Context, clinicID, channel string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("clinic_id", strings.TrimSpace(clinicID)),
		attribute.String("channel", strings.TrimSpace(channel)),
	)
	m.ledgerTransactions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSettlementClosed counts a successful day close.
func (m *Metrics) RecordSettlementClosed(ctx context.Context, clinicID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("clinic_id", strings.TrimSpace(clinicID)))
	m.settlementsClosed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSettlementRejected counts a refused day close by reason.
func (m *Metrics) RecordSettlementRejected(ctx context.Context, clinicID, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("clinic_id", strings.TrimSpace(clinicID)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.settlementRejections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReportFailure counts a settlement report that could not be stored.
func (m *Metrics) RecordReportFailure(ctx context.Context, clinicID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("clinic_id", strings.TrimSpace(clinicID)))
	m.reportFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJobRun counts a scheduler job run by outcome (ok, error, timeout).
func (m *Metrics) RecordJobRun(ctx context.Context, job, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome),
	)
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"clinic_id":   {},
	"procedure":   {},
	"category":    {},
	"channel":     {},
	"job":         {},
	"outcome":     {},
	"reason":      {},
	"route":       {},
	"status_code": {},
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
