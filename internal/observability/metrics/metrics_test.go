package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("clinic_id", "C1"),
		attribute.String("patient_id", "456"),
		attribute.String("channel", "UPI"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("clinic_id"), attrs[0].Key)
	assert.Equal(t, attribute.Key("channel"), attrs[1].Key)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordInvoiceLine(ctx, "RCT_MOLAR", "endodontic")
		m.RecordSettlementClosed(ctx, "C1")
		m.RecordSettlementRejected(ctx, "C1", "unverified")
		m.RecordReportFailure(ctx, "C1")
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordLedgerTransaction(context.Background(), "C1", "CASH")
		m.RecordInvoiceNumber(context.Background(), "C1")
	})
}
