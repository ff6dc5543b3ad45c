package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	auditdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	auditrepository "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/repository"
	auditservice "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/service"
	billingdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/config"
	invoicedomain "github.com/Nobledental/NOBLE-OS-sub002/internal/invoice/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/invoice/repository"
	tariffdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/tariff/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (invoicedomain.Service, auditdomain.Service) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&invoicedomain.Invoice{}, &auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 2, 10, 18, 0, 0, 0, time.UTC))

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepository.Provide(),
		Clock: clk,
	})
	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   config.Config{InvoiceNumberTemplate: "INV-{CLINIC}-{YYYY}{MM}-{SEQ6}"},
		Repo:     repository.Provide(),
		AuditSvc: audit,
	})
	return svc, audit
}

func line(treatmentID snowflake.ID, procedure tariffdomain.Procedure, unitCost int64, quantity, taxRate int) billingdomain.InvoiceLine {
	return billingdomain.InvoiceLine{
		Reference:   billingdomain.LineReference(treatmentID),
		ClinicID:    "C1",
		TreatmentID: treatmentID,
		Procedure:   procedure,
		UnitCost:    unitCost,
		Quantity:    quantity,
		TaxRate:     taxRate,
	}
}

func sampleLines() []billingdomain.InvoiceLine {
	return []billingdomain.InvoiceLine{
		line(1, tariffdomain.ProcedureCrown, 7000, 3, 12),
		line(2, tariffdomain.ProcedureWhitening, 8000, 1, 18),
		line(3, tariffdomain.ProcedureRootCanalMolar, 8500, 1, 0),
	}
}

func TestComputeTotals_RoundsPerLine(t *testing.T) {
	lines := []billingdomain.InvoiceLine{
		line(1, "A", 125, 1, 18), // 22.5 -> 23
		line(2, "B", 125, 1, 18), // 22.5 -> 23
	}
	totals := invoicedomain.ComputeTotals(lines)
	assert.Equal(t, int64(250), totals.Subtotal)
	assert.Equal(t, int64(46), totals.Tax)
	assert.Equal(t, int64(296), totals.Total)
}

func TestAggregate_TotalsAndNumber(t *testing.T) {
	svc, audit := newTestService(t)
	ctx := context.Background()

	result, err := svc.Aggregate(ctx, invoicedomain.AggregateRequest{ClinicID: "C1", Lines: sampleLines()})
	require.NoError(t, err)
	assert.Equal(t, int64(37500), result.Subtotal)
	assert.Equal(t, int64(3960), result.Tax)
	assert.Equal(t, int64(41460), result.Total)
	assert.Equal(t, "INV-C1-202402-000001", result.InvoiceNumber)
	assert.NotEmpty(t, result.DraftID)

	logs, err := audit.List(ctx, auditdomain.ListAuditLogRequest{ClinicID: "C1", Event: auditdomain.EventInvoiceNumberAssigned})
	require.NoError(t, err)
	assert.Len(t, logs.AuditLogs, 1)
}

func TestAggregate_NumberIsIdempotentPerDraft(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Aggregate(ctx, invoicedomain.AggregateRequest{ClinicID: "C1", DraftID: "draft-1", Lines: sampleLines()})
	require.NoError(t, err)

	reordered := sampleLines()
	reordered[0], reordered[2] = reordered[2], reordered[0]
	again, err := svc.Aggregate(ctx, invoicedomain.AggregateRequest{ClinicID: "C1", DraftID: "draft-1", Lines: reordered})
	require.NoError(t, err)
	assert.Equal(t, first.InvoiceNumber, again.InvoiceNumber)
	assert.Equal(t, first.Totals, again.Totals)

	derived, err := svc.Aggregate(ctx, invoicedomain.AggregateRequest{ClinicID: "C1", Lines: sampleLines()})
	require.NoError(t, err)
	derivedAgain, err := svc.Aggregate(ctx, invoicedomain.AggregateRequest{ClinicID: "C1", Lines: reordered})
	require.NoError(t, err)
	assert.Equal(t, "INV-C1-202402-000002", derived.InvoiceNumber)
	assert.Equal(t, derived.InvoiceNumber, derivedAgain.InvoiceNumber)

	stored, err := svc.GetByDraft(ctx, "C1", "draft-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Sequence)
	assert.Equal(t, first.Totals, stored.Totals())
}

func TestAggregate_DraftReusedWithOtherLines(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Aggregate(ctx, invoicedomain.AggregateRequest{ClinicID: "C1", DraftID: "draft-1", Lines: sampleLines()})
	require.NoError(t, err)

	_, err = svc.Aggregate(ctx, invoicedomain.AggregateRequest{ClinicID: "C1", DraftID: "draft-1", Lines: sampleLines()[:1]})
	assert.ErrorIs(t, err, invoicedomain.ErrDraftMismatch)
	assert.True(t, errs.IsState(err))
}

func TestAggregate_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Aggregate(ctx, invoicedomain.AggregateRequest{ClinicID: "C1"})
	assert.ErrorIs(t, err, invoicedomain.ErrNoLines)

	foreign := sampleLines()
	foreign[1].ClinicID = "C2"
	_, err = svc.Aggregate(ctx, invoicedomain.AggregateRequest{ClinicID: "C1", Lines: foreign})
	assert.ErrorIs(t, err, invoicedomain.ErrForeignLine)

	dup := append(sampleLines(), sampleLines()[0])
	_, err = svc.Aggregate(ctx, invoicedomain.AggregateRequest{ClinicID: "C1", Lines: dup})
	assert.ErrorIs(t, err, invoicedomain.ErrDuplicateLine)

	_, err = svc.GetByDraft(ctx, "C1", "missing")
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestAggregate_ConcurrentDraftsGetDistinctSequences(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const drafts = 5
	var wg sync.WaitGroup
	numbers := make(chan string, drafts)
	for i := 0; i < drafts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.Aggregate(ctx, invoicedomain.AggregateRequest{
				ClinicID: "C1",
				DraftID:  fmt.Sprintf("draft-%d", i),
				Lines:    []billingdomain.InvoiceLine{line(snowflake.ID(100+i), tariffdomain.ProcedureScaling, 1500, 1, 0)},
			})
			assert.NoError(t, err)
			numbers <- result.InvoiceNumber
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for number := range numbers {
		assert.False(t, seen[number], number)
		seen[number] = true
	}
	assert.Len(t, seen, drafts)
}
