package service

import (
	"context"
	"testing"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/config"
	tariffdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/tariff/domain"
	tariffservice "github.com/Nobledental/NOBLE-OS-sub002/internal/tariff/service"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/repository"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Treatment{}))

	holder, err := config.NewStaticTariffConfigHolder(config.DefaultTariffConfig())
	require.NoError(t, err)
	catalog, err := tariffservice.NewCatalog(tariffservice.CatalogParams{Tariff: holder})
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC))

	return NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repository.Provide(),
		Catalog: catalog,
		Clock:   clk,
	}), clk
}

func TestPlan_DerivesTeethCount(t *testing.T) {
	svc, _ := newTestService(t)

	tr, err := svc.Plan(context.Background(), domain.PlanRequest{ClinicID: "C1", Procedure: "filling_composite", Teeth: []int{16, 26}})
	require.NoError(t, err)
	assert.Equal(t, tariffdomain.ProcedureFilling, tr.Procedure)
	assert.Equal(t, 2, tr.TeethCount)
	assert.Equal(t, domain.StatusPlanned, tr.Status)
	assert.Nil(t, tr.CompletedAt)

	loaded, err := svc.Get(context.Background(), "C1", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{16, 26}, loaded.TeethList())
}

func TestPlan_RejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Plan(ctx, domain.PlanRequest{ClinicID: "C1", Procedure: "BRACES"})
	assert.ErrorIs(t, err, tariffdomain.ErrUnknownProcedure)

	_, err = svc.Plan(ctx, domain.PlanRequest{ClinicID: "C1", Procedure: "EXTRACTION", Teeth: []int{59}})
	assert.True(t, errs.IsValidation(err))

	_, err = svc.Plan(ctx, domain.PlanRequest{Procedure: "SCALING"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.Plan(ctx, domain.PlanRequest{ClinicID: "C1", Procedure: "RCT"})
	assert.ErrorIs(t, err, tariffdomain.ErrRootCanalToothRequired)
}

func TestLifecycle_CompletionTimestampWrittenOnce(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	tr, err := svc.Plan(ctx, domain.PlanRequest{ClinicID: "C1", Procedure: "RCT", Teeth: []int{46}})
	require.NoError(t, err)

	started, err := svc.Start(ctx, "C1", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, started.Status)

	clk.Advance(time.Hour)
	completed, err := svc.Complete(ctx, "C1", tr.ID)
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)
	assert.True(t, completed.CompletedAt.Equal(clk.Now()))
	firstCompletion := *completed.CompletedAt

	clk.Advance(time.Hour)
	again, err := svc.Complete(ctx, "C1", tr.ID)
	require.NoError(t, err)
	assert.True(t, again.CompletedAt.Equal(firstCompletion))

	_, err = svc.Start(ctx, "C1", tr.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.True(t, errs.IsState(err))
}

func TestListBillable_OnlyCompletedUnbilled(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	done, err := svc.Plan(ctx, domain.PlanRequest{ClinicID: "C1", Procedure: "SCALING"})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, "C1", done.ID)
	require.NoError(t, err)

	_, err = svc.Plan(ctx, domain.PlanRequest{ClinicID: "C1", Procedure: "CONSULTATION"})
	require.NoError(t, err)
	other, err := svc.Plan(ctx, domain.PlanRequest{ClinicID: "C2", Procedure: "SCALING"})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, "C2", other.ID)
	require.NoError(t, err)

	billable, err := svc.ListBillable(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, billable, 1)
	assert.Equal(t, done.ID, billable[0].ID)
	assert.Equal(t, domain.StatusCompleted, billable[0].Status)
	assert.False(t, billable[0].Billed)

	_, err = svc.List(ctx, domain.ListRequest{ClinicID: "C1", Status: "cancelled"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "C1", 12345)
	assert.ErrorIs(t, err, domain.ErrTreatmentNotFound)
}

func TestCanTransition(t *testing.T) {
	planned := domain.Treatment{Status: domain.StatusPlanned}
	assert.True(t, planned.CanTransition(domain.StatusInProgress))
	assert.True(t, planned.CanTransition(domain.StatusCompleted))

	completed := domain.Treatment{Status: domain.StatusCompleted}
	assert.False(t, completed.CanTransition(domain.StatusPlanned))
	assert.False(t, completed.CanTransition(domain.StatusInProgress))
}

