package service

import (
	"context"
	"testing"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/auditcontext"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/repository"
	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	settlementrepository "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/repository"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db             *gorm.DB
	svc            domain.Service
	params         Params
	settlementRepo settlementdomain.Repository
	clock          *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Transaction{}, &settlementdomain.Settlement{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC))
	settlementRepo := settlementrepository.Provide()

	params := Params{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          clk,
		Repo:           repository.Provide(),
		SettlementRepo: settlementRepo,
	}
	return &fixture{db: db, svc: NewService(params), params: params, settlementRepo: settlementRepo, clock: clk}
}

// with returns a service built on the given repositories; nil keeps the
// fixture's own.
func (f *fixture) with(repo domain.Repository, settlementRepo settlementdomain.Repository) domain.Service {
	params := f.params
	if repo != nil {
		params.Repo = repo
	}
	if settlementRepo != nil {
		params.SettlementRepo = settlementRepo
	}
	return NewService(params)
}

// racingSettlementRepo applies a competing write to the day right before
// the first `races` version bumps.
type racingSettlementRepo struct {
	settlementdomain.Repository

	races  int
	closes bool
	calls  int
}

func (r *racingSettlementRepo) BumpVersion(ctx context.Context, db *gorm.DB, record *settlementdomain.Settlement, at time.Time) (int64, error) {
	r.calls++
	if r.calls <= r.races {
		set := "version = version + 1"
		if r.closes {
			set = "status = 'CLOSED', version = version + 1"
		}
		if err := db.WithContext(ctx).Exec("UPDATE settlements SET "+set+" WHERE id = ?", record.ID).Error; err != nil {
			return 0, err
		}
	}
	return r.Repository.BumpVersion(ctx, db, record, at)
}

// racingVerifyRepo lets another verifier win right before the CAS.
type racingVerifyRepo struct {
	domain.Repository
}

func (r *racingVerifyRepo) MarkVerified(ctx context.Context, db *gorm.DB, txn *domain.Transaction, actor string, at time.Time) (int64, error) {
	err := db.WithContext(ctx).Exec(
		"UPDATE ledger_transactions SET verified = ?, verified_by = ?, verified_at = ? WHERE id = ?",
		true, "other-desk", at, txn.ID,
	).Error
	if err != nil {
		return 0, err
	}
	return r.Repository.MarkVerified(ctx, db, txn, actor, at)
}

func TestAppend_RecordsTransactionAndOpensDay(t *testing.T) {
	f := newFixture(t)
	ctx := auditcontext.WithActor(context.Background(), "reception-1")

	txn, err := f.svc.Append(ctx, domain.AppendRequest{
		ClinicID:  "C1",
		Date:      "2024-02-10",
		Channel:   "upi",
		Amount:    300,
		Reference: " UPI-REF-7 ",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelUPI, txn.Channel)
	assert.Equal(t, "UPI-REF-7", txn.Reference)
	assert.Equal(t, "reception-1", txn.RecordedBy)
	assert.False(t, txn.Verified)

	items, err := f.svc.List(ctx, "C1", "2024-02-10")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, txn.ID, items[0].ID)

	record, err := f.settlementRepo.Find(ctx, f.db, "C1", "2024-02-10")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, settlementdomain.StatusOpen, record.Status)
	assert.Equal(t, int64(1), record.Version)
}

func TestAppend_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.AppendRequest
		want error
	}{
		{"missing clinic", domain.AppendRequest{Date: "2024-02-10", Channel: "CASH", Amount: 1}, domain.ErrInvalidClinic},
		{"bad date", domain.AppendRequest{ClinicID: "C1", Date: "2024-13-01", Channel: "CASH", Amount: 1}, domain.ErrInvalidDate},
		{"bad channel", domain.AppendRequest{ClinicID: "C1", Date: "2024-02-10", Channel: "CHEQUE", Amount: 1}, domain.ErrInvalidChannel},
		{"zero amount", domain.AppendRequest{ClinicID: "C1", Date: "2024-02-10", Channel: "CASH", Amount: 0}, domain.ErrInvalidAmount},
		{"negative amount", domain.AppendRequest{ClinicID: "C1", Date: "2024-02-10", Channel: "CARD", Amount: -10}, domain.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Append(ctx, tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, errs.IsValidation(err))
		})
	}

	items, err := f.svc.List(ctx, "C1", "2024-02-10")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestVerify_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn, err := f.svc.Append(ctx, domain.AppendRequest{ClinicID: "C1", Date: "2024-02-10", Channel: "CASH", Amount: 100})
	require.NoError(t, err)

	first, err := f.svc.Verify(ctx, domain.VerifyRequest{ClinicID: "C1", ID: txn.ID, Actor: "manager"})
	require.NoError(t, err)
	assert.True(t, first.Verified)
	assert.Equal(t, "manager", first.VerifiedBy)
	require.NotNil(t, first.VerifiedAt)

	f.clock.Advance(time.Hour)
	second, err := f.svc.Verify(ctx, domain.VerifyRequest{ClinicID: "C1", ID: txn.ID, Actor: "someone-else"})
	require.NoError(t, err)
	assert.True(t, second.Verified)
	assert.Equal(t, "manager", second.VerifiedBy)
	assert.True(t, first.VerifiedAt.Equal(*second.VerifiedAt))

	record, err := f.settlementRepo.Find(ctx, f.db, "C1", "2024-02-10")
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.Version)
}

func TestVerify_UnknownTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Verify(context.Background(), domain.VerifyRequest{ClinicID: "C1", ID: 42})
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestAppend_ClosedDayIsStateError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Append(ctx, domain.AppendRequest{ClinicID: "C1", Date: "2024-02-10", Channel: "CASH", Amount: 100})
	require.NoError(t, err)

	record, err := f.settlementRepo.Find(ctx, f.db, "C1", "2024-02-10")
	require.NoError(t, err)
	rows, err := f.settlementRepo.Close(ctx, f.db, record, settlementdomain.ChannelTotals{Cash: 100, Grand: 100, Count: 1}, "alice", f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	_, err = f.svc.Append(ctx, domain.AppendRequest{ClinicID: "C1", Date: "2024-02-10", Channel: "CARD", Amount: 50})
	require.Error(t, err)
	assert.True(t, errs.IsState(err))
	assert.ErrorIs(t, err, domain.ErrSettlementClosed)

	items, err := f.svc.List(ctx, "C1", "2024-02-10")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestList_ScopedByClinicAndDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, req := range []domain.AppendRequest{
		{ClinicID: "C1", Date: "2024-02-10", Channel: "CASH", Amount: 100},
		{ClinicID: "C1", Date: "2024-02-11", Channel: "CASH", Amount: 200},
		{ClinicID: "C2", Date: "2024-02-10", Channel: "CASH", Amount: 300},
	} {
		_, err := f.svc.Append(ctx, req)
		require.NoError(t, err)
	}

	items, err := f.svc.List(ctx, "C1", "2024-02-10")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(100), items[0].Amount)
}

func TestAppend_DayClosedDuringWriteIsStateError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	racing := &racingSettlementRepo{Repository: f.settlementRepo, races: 1, closes: true}
	_, err := f.with(nil, racing).Append(ctx, domain.AppendRequest{ClinicID: "C1", Date: "2024-02-10", Channel: "CASH", Amount: 100})
	require.Error(t, err)
	assert.True(t, errs.IsState(err))
	assert.ErrorIs(t, err, domain.ErrSettlementClosed)
	assert.Equal(t, 1, racing.calls)

	items, err := f.svc.List(ctx, "C1", "2024-02-10")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAppend_VersionConflictIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	racing := &racingSettlementRepo{Repository: f.settlementRepo, races: 1}
	txn, err := f.with(nil, racing).Append(ctx, domain.AppendRequest{ClinicID: "C1", Date: "2024-02-10", Channel: "CARD", Amount: 250})
	require.NoError(t, err)
	assert.Equal(t, 2, racing.calls)

	items, err := f.svc.List(ctx, "C1", "2024-02-10")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, txn.ID, items[0].ID)
}

func TestAppend_SecondConflictSurfacesAsConcurrencyError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	racing := &racingSettlementRepo{Repository: f.settlementRepo, races: 2}
	_, err := f.with(nil, racing).Append(ctx, domain.AppendRequest{ClinicID: "C1", Date: "2024-02-10", Channel: "UPI", Amount: 50})
	require.Error(t, err)
	assert.True(t, errs.IsConcurrency(err))
	assert.ErrorIs(t, err, domain.ErrLedgerConflict)
	assert.Equal(t, 2, racing.calls)

	items, err := f.svc.List(ctx, "C1", "2024-02-10")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestVerify_LostCASReturnsWinnersVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn, err := f.svc.Append(ctx, domain.AppendRequest{ClinicID: "C1", Date: "2024-02-10", Channel: "CASH", Amount: 100})
	require.NoError(t, err)

	verified, err := f.with(&racingVerifyRepo{Repository: f.params.Repo}, nil).Verify(ctx, domain.VerifyRequest{ClinicID: "C1", ID: txn.ID, Actor: "manager"})
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Equal(t, "other-desk", verified.VerifiedBy)
}
