package service

import (
	"context"
	"sync"
	"testing"
	"time"

	auditdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	auditrepository "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/repository"
	auditservice "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/service"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	ledgerdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	ledgerrepository "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/repository"
	ledgerservice "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/service"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/lock"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/repository"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testClinic = "C1"
	testDate   = "2024-02-10"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	records []domain.Settlement
}

func (d *recordingDispatcher) Dispatch(_ context.Context, record domain.Settlement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, record)
}

func (d *recordingDispatcher) calls() []domain.Settlement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Settlement(nil), d.records...)
}

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	ledger  ledgerdomain.Service
	audit   auditdomain.Service
	reports *recordingDispatcher
}

func newFixture(t *testing.T, locker *lock.Locker) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, locker, nil)
}

// newFixtureWithRepo lets wrap decorate the repository used by the close
// path. The ledger keeps the plain repository.
func newFixtureWithRepo(t *testing.T, locker *lock.Locker, wrap func(domain.Repository) domain.Repository) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Settlement{}, &ledgerdomain.Transaction{}, &auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 2, 10, 20, 30, 0, 0, time.UTC))

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepository.Provide(),
		Clock: clk,
	})
	settlementRepo := repository.Provide()
	ledgerRepo := ledgerrepository.Provide()
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          clk,
		Repo:           ledgerRepo,
		SettlementRepo: settlementRepo,
	})
	closeRepo := settlementRepo
	if wrap != nil {
		closeRepo = wrap(settlementRepo)
	}
	reports := &recordingDispatcher{}
	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Repo:       closeRepo,
		LedgerRepo: ledgerRepo,
		AuditSvc:   audit,
		Locker:     locker,
		Reports:    reports,
	})
	return &fixture{db: db, svc: svc, ledger: ledger, audit: audit, reports: reports}
}

// racingSettlementRepo applies a competing write inside the close
// transaction right before the first `races` CAS attempts.
type racingSettlementRepo struct {
	domain.Repository

	races     int
	closeWins bool
	calls     int
}

func (r *racingSettlementRepo) Close(ctx context.Context, db *gorm.DB, record *domain.Settlement, totals domain.ChannelTotals, actor string, at time.Time) (int64, error) {
	r.calls++
	if r.calls <= r.races {
		set := "version = version + 1"
		if r.closeWins {
			set = "status = 'CLOSED', closed_by = 'other-desk', version = version + 1"
		}
		if err := db.WithContext(ctx).Exec("UPDATE settlements SET "+set+" WHERE clinic_id = ? AND date = ?", record.ClinicID, record.Date).Error; err != nil {
			return 0, err
		}
	}
	return r.Repository.Close(ctx, db, record, totals, actor, at)
}

func (f *fixture) record(t *testing.T, channel ledgerdomain.Channel, amount int64, verified bool) ledgerdomain.Transaction {
	t.Helper()
	ctx := context.Background()
	txn, err := f.ledger.Append(ctx, ledgerdomain.AppendRequest{
		ClinicID:   testClinic,
		Date:       testDate,
		Channel:    string(channel),
		Amount:     amount,
		RecordedBy: "front-desk",
	})
	require.NoError(t, err)
	if verified {
		txn, err = f.ledger.Verify(ctx, ledgerdomain.VerifyRequest{ClinicID: testClinic, ID: txn.ID, Actor: "manager"})
		require.NoError(t, err)
	}
	return *txn
}

func (f *fixture) auditEvents(t *testing.T, event string) []auditdomain.AuditLog {
	t.Helper()
	resp, err := f.audit.List(context.Background(), auditdomain.ListAuditLogRequest{ClinicID: testClinic, Event: event})
	require.NoError(t, err)
	return resp.AuditLogs
}

func TestCloseDay_ClosesWithChannelTotals(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.record(t, ledgerdomain.ChannelCash, 100, true)
	f.record(t, ledgerdomain.ChannelCash, 200, true)
	f.record(t, ledgerdomain.ChannelUPI, 300, true)

	closed, err := f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, domain.ChannelTotals{Cash: 300, UPI: 300, Card: 0, Grand: 600, Count: 3}, closed.Totals())
	assert.Equal(t, "alice", closed.ClosedBy)
	require.NotNil(t, closed.ClosedAt)

	stored, err := f.svc.Get(ctx, testClinic, testDate)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, stored.Status)
	assert.Equal(t, closed.Totals(), stored.Totals())

	view, err := f.svc.Status(ctx, testClinic, testDate)
	require.NoError(t, err)
	assert.False(t, view.Live)
	assert.Equal(t, int64(600), view.Totals.Grand)

	events := f.auditEvents(t, auditdomain.EventSettlementClosed)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Actor)
	assert.Equal(t, "OPEN", events[0].BeforeState)
	assert.Equal(t, "CLOSED", events[0].AfterState)

	dispatched := f.reports.calls()
	require.Len(t, dispatched, 1)
	assert.Equal(t, int64(600), dispatched[0].GrandTotal)
}

func TestCloseDay_EmptyDayStaysOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "alice"})
	require.Error(t, err)
	assert.True(t, errs.IsState(err))
	assert.ErrorIs(t, err, domain.ErrNoTransactions)

	view, err := f.svc.Status(ctx, testClinic, testDate)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, view.Status)
	assert.Equal(t, int64(0), view.Totals.Grand)

	rejected := f.auditEvents(t, auditdomain.EventSettlementCloseRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, domain.ErrNoTransactions.Error(), rejected[0].Reason)
	assert.Empty(t, f.reports.calls())
}

func TestCloseDay_UnverifiedLeavesTotalsUnset(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.record(t, ledgerdomain.ChannelCash, 100, true)
	f.record(t, ledgerdomain.ChannelCard, 250, false)
	f.record(t, ledgerdomain.ChannelUPI, 300, false)

	_, err := f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "alice"})
	require.Error(t, err)
	assert.True(t, errs.IsState(err))
	assert.ErrorIs(t, err, domain.ErrUnverifiedTransactions)
	assert.Contains(t, err.Error(), "2 transactions unverified")

	stored, err := f.svc.Get(ctx, testClinic, testDate)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, stored.Status)
	assert.Equal(t, domain.ChannelTotals{}, stored.Totals())
	assert.Empty(t, stored.ClosedBy)
	assert.Nil(t, stored.ClosedAt)

	view, err := f.svc.Status(ctx, testClinic, testDate)
	require.NoError(t, err)
	assert.True(t, view.Live)
	assert.Equal(t, 2, view.UnverifiedCount)
	assert.Equal(t, int64(650), view.Totals.Grand)
}

func TestCloseDay_SecondCloseKeepsTotals(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.record(t, ledgerdomain.ChannelCash, 100, true)
	f.record(t, ledgerdomain.ChannelCard, 400, true)

	first, err := f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "alice"})
	require.NoError(t, err)

	_, err = f.ledger.Append(ctx, ledgerdomain.AppendRequest{ClinicID: testClinic, Date: testDate, Channel: "CASH", Amount: 999})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledgerdomain.ErrSettlementClosed)

	_, err = f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "bob"})
	require.Error(t, err)
	assert.True(t, errs.IsState(err))
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)

	stored, err := f.svc.Get(ctx, testClinic, testDate)
	require.NoError(t, err)
	assert.Equal(t, first.Totals(), stored.Totals())
	assert.Equal(t, "alice", stored.ClosedBy)
	assert.Len(t, f.reports.calls(), 1)
}

func TestCloseDay_ConcurrentClosesExactlyOneWins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.record(t, ledgerdomain.ChannelCash, 100, true)
	f.record(t, ledgerdomain.ChannelUPI, 300, true)

	const attempts = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "staff"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if errs.IsState(err) || errs.IsConcurrency(err) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, rejected)

	stored, err := f.svc.Get(ctx, testClinic, testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(400), stored.GrandTotal)
	assert.Len(t, f.auditEvents(t, auditdomain.EventSettlementClosed), 1)
}

func TestCloseDay_LostCASToCompetingCloseIsStateError(t *testing.T) {
	racing := &racingSettlementRepo{races: 1, closeWins: true}
	f := newFixtureWithRepo(t, nil, func(repo domain.Repository) domain.Repository {
		racing.Repository = repo
		return racing
	})
	ctx := context.Background()
	f.record(t, ledgerdomain.ChannelCash, 100, true)

	_, err := f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "alice"})
	require.Error(t, err)
	assert.True(t, errs.IsState(err))
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
	assert.Equal(t, 1, racing.calls)
	assert.Empty(t, f.reports.calls())
	assert.Empty(t, f.auditEvents(t, auditdomain.EventSettlementClosed))
}

func TestCloseDay_VersionConflictIsRetriedOnce(t *testing.T) {
	racing := &racingSettlementRepo{races: 1}
	f := newFixtureWithRepo(t, nil, func(repo domain.Repository) domain.Repository {
		racing.Repository = repo
		return racing
	})
	ctx := context.Background()
	f.record(t, ledgerdomain.ChannelCash, 100, true)
	f.record(t, ledgerdomain.ChannelCard, 250, true)

	closed, err := f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, racing.calls)
	assert.Equal(t, int64(350), closed.GrandTotal)
	assert.Len(t, f.auditEvents(t, auditdomain.EventSettlementClosed), 1)
	assert.Len(t, f.reports.calls(), 1)
}

func TestCloseDay_SecondConflictSurfacesAsConcurrencyError(t *testing.T) {
	racing := &racingSettlementRepo{races: 2}
	f := newFixtureWithRepo(t, nil, func(repo domain.Repository) domain.Repository {
		racing.Repository = repo
		return racing
	})
	ctx := context.Background()
	f.record(t, ledgerdomain.ChannelUPI, 400, true)

	_, err := f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "alice"})
	require.Error(t, err)
	assert.True(t, errs.IsConcurrency(err))
	assert.ErrorIs(t, err, domain.ErrSettlementConflict)
	assert.Equal(t, 2, racing.calls)

	stored, err := f.svc.Get(ctx, testClinic, testDate)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, stored.Status)
	assert.Zero(t, stored.GrandTotal)

	rejected := f.auditEvents(t, auditdomain.EventSettlementCloseRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "settlement_conflict", rejected[0].Reason)
}

func TestCloseDay_HeldLockIsConcurrencyError(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.NewLocker(client)

	f := newFixture(t, locker)
	ctx := context.Background()
	f.record(t, ledgerdomain.ChannelCash, 100, true)

	_, ok, err := locker.TryLock(ctx, "settlement:close:C1:2024-02-10", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "alice"})
	require.Error(t, err)
	assert.True(t, errs.IsConcurrency(err))
	assert.ErrorIs(t, err, domain.ErrCloseInProgress)

	srv.Del("settlement:close:C1:2024-02-10")

	closed, err := f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), closed.CashTotal)
	assert.False(t, srv.Exists("settlement:close:C1:2024-02-10"))
}

func TestCloseDay_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CloseDay(ctx, domain.CloseRequest{Date: testDate})
	assert.ErrorIs(t, err, domain.ErrInvalidClinic)

	_, err = f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: "10/02/2024"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidDate)
	assert.True(t, errs.IsValidation(err))
}

func TestGet_MissingDay(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Get(context.Background(), testClinic, "2024-03-01")
	assert.ErrorIs(t, err, domain.ErrSettlementNotFound)
}

func TestLiveTotals_IncludesUnverified(t *testing.T) {
	f := newFixture(t, nil)

	f.record(t, ledgerdomain.ChannelCash, 100, false)
	f.record(t, ledgerdomain.ChannelCard, 50, true)

	totals, err := f.svc.LiveTotals(context.Background(), testClinic, testDate)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelTotals{Cash: 100, Card: 50, Grand: 150, Count: 2}, totals)
}

func TestRecordCorrection_OnlyOnClosedDays(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := domain.CorrectionRequest{
		ClinicID: testClinic,
		Date:     testDate,
		Actor:    "admin",
		Channel:  "cash",
		Amount:   -50,
		Reason:   "double entry",
	}

	f.record(t, ledgerdomain.ChannelCash, 100, true)
	err := f.svc.RecordCorrection(ctx, req)
	assert.True(t, errs.IsState(err))
	assert.ErrorIs(t, err, domain.ErrSettlementNotClosed)

	_, err = f.svc.CloseDay(ctx, domain.CloseRequest{ClinicID: testClinic, Date: testDate, Actor: "alice"})
	require.NoError(t, err)

	require.NoError(t, f.svc.RecordCorrection(ctx, req))

	corrections := f.auditEvents(t, auditdomain.EventSettlementCorrection)
	require.Len(t, corrections, 1)
	assert.Equal(t, "double entry", corrections[0].Reason)
	assert.Equal(t, "admin", corrections[0].Actor)

	stored, err := f.svc.Get(ctx, testClinic, testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.GrandTotal)

	req.Reason = " "
	assert.True(t, errs.IsValidation(f.svc.RecordCorrection(ctx, req)))
	req.Reason = "x"
	req.Amount = 0
	assert.True(t, errs.IsValidation(f.svc.RecordCorrection(ctx, req)))
}
