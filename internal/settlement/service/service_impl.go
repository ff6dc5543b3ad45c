package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/auditcontext"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	ledgerdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/lock"
	obslogger "github.com/Nobledental/NOBLE-OS-sub002/internal/observability/logger"
	obsmetrics "github.com/Nobledental/NOBLE-OS-sub002/internal/observability/metrics"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const closeLockTTL = 30 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	LedgerRepo ledgerdomain.Repository
	AuditSvc   auditdomain.Service
	Locker     *lock.Locker            `optional:"true"`
	Reports    domain.ReportDispatcher `optional:"true"`
	ObsMetrics *obsmetrics.Metrics     `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	ledgerRepo ledgerdomain.Repository
	auditSvc   auditdomain.Service
	locker     *lock.Locker
	reports    domain.ReportDispatcher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("settlement.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		auditSvc:   p.AuditSvc,
		locker:     p.Locker,
		reports:    p.Reports,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Status(ctx context.Context, clinicID, date string) (domain.StatusView, error) {
	clinicID, date, err := normalizeDay(clinicID, date)
	if err != nil {
		return domain.StatusView{}, err
	}

	record, err := s.repo.Find(ctx, s.db, clinicID, date)
	if err != nil {
		return domain.StatusView{}, err
	}
	if record != nil && record.Closed() {
		return domain.StatusView{
			ClinicID: clinicID,
			Date:     date,
			Status:   domain.StatusClosed,
			Totals:   record.Totals(),
			ClosedBy: record.ClosedBy,
			ClosedAt: record.ClosedAt,
		}, nil
	}

	txns, err := s.ledgerRepo.ListByDay(ctx, s.db, clinicID, date)
	if err != nil {
		return domain.StatusView{}, err
	}
	totals, unverified := ComputeTotals(txns)
	return domain.StatusView{
		ClinicID:        clinicID,
		Date:            date,
		Status:          domain.StatusOpen,
		Totals:          totals,
		Live:            true,
		UnverifiedCount: unverified,
	}, nil
}

func (s *Service) LiveTotals(ctx context.Context, clinicID, date string) (domain.ChannelTotals, error) {
	clinicID, date, err := normalizeDay(clinicID, date)
	if err != nil {
		return domain.ChannelTotals{}, err
	}
	txns, err := s.ledgerRepo.ListByDay(ctx, s.db, clinicID, date)
	if err != nil {
		return domain.ChannelTotals{}, err
	}
	totals, _ := ComputeTotals(txns)
	return totals, nil
}

func (s *Service) Get(ctx context.Context, clinicID, date string) (*domain.Settlement, error) {
	clinicID, date, err := normalizeDay(clinicID, date)
	if err != nil {
		return nil, err
	}
	record, err := s.repo.Find(ctx, s.db, clinicID, date)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrSettlementNotFound
	}
	return record, nil
}

func (s *Service) CloseDay(ctx context.Context, req domain.CloseRequest) (*domain.Settlement, error) {
	clinicID, date, err := normalizeDay(req.ClinicID, req.Date)
	if err != nil {
		return nil, err
	}
	actor := resolveActor(ctx, req.Actor)

	var closed *domain.Settlement
	err = errs.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.withCloseLock(ctx, clinicID, date, func() error {
			record, err := s.closeOnce(ctx, clinicID, date, actor)
			if err != nil {
				return err
			}
			closed = record
			return nil
		})
	})
	if err != nil {
		s.recordRejection(ctx, clinicID, date, actor, err)
		return nil, err
	}

	s.obsMetrics.RecordSettlementClosed(ctx, clinicID)
	obslogger.WithSettlement(s.log, clinicID, date).Info("settlement closed",
		zap.String("actor", actor),
		zap.Int64("grand_total", closed.GrandTotal),
		zap.Int("transaction_count", closed.TransactionCount),
	)
	if s.reports != nil {
		s.reports.Dispatch(context.WithoutCancel(ctx), *closed)
	}
	return closed, nil
}

// closeOnce runs the OPEN to CLOSED transition in one transaction. Totals
// are computed from the transaction set read inside it and the write only
// lands if no ledger write touched the day in between.
func (s *Service) closeOnce(ctx context.Context, clinicID, date, actor string) (*domain.Settlement, error) {
	var closed *domain.Settlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		record, err := s.repo.EnsureOpen(ctx, tx, &domain.Settlement{
			ID:        s.genID.Generate(),
			ClinicID:  clinicID,
			Date:      date,
			Status:    domain.StatusOpen,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("settlement record for %s/%s not readable after insert", clinicID, date)
		}
		if record.Closed() {
			return alreadyClosed(date)
		}

		txns, err := s.ledgerRepo.ListByDay(ctx, tx, clinicID, date)
		if err != nil {
			return err
		}
		if len(txns) == 0 {
			return errs.State(domain.ErrNoTransactions, date, string(domain.StatusOpen), "no transactions to close")
		}
		totals, unverified := ComputeTotals(txns)
		if unverified > 0 {
			return errs.State(domain.ErrUnverifiedTransactions, date, string(domain.StatusOpen),
				fmt.Sprintf("%d transactions unverified", unverified))
		}

		rows, err := s.repo.Close(ctx, tx, record, totals, actor, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			latest, err := s.repo.Find(ctx, tx, clinicID, date)
			if err != nil {
				return err
			}
			if latest != nil && latest.Closed() {
				return alreadyClosed(date)
			}
			return errs.Concurrency(domain.ErrSettlementConflict, date, "the day changed while closing")
		}

		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.RecordRequest{
			ClinicID:    clinicID,
			Actor:       actor,
			Event:       auditdomain.EventSettlementClosed,
			SubjectType: "settlement",
			SubjectID:   date,
			BeforeState: string(domain.StatusOpen),
			AfterState:  string(domain.StatusClosed),
			Metadata: map[string]any{
				"cash_total":        totals.Cash,
				"upi_total":         totals.UPI,
				"card_total":        totals.Card,
				"grand_total":       totals.Grand,
				"transaction_count": totals.Count,
			},
		}); err != nil {
			return err
		}

		record.Status = domain.StatusClosed
		record.CashTotal = totals.Cash
		record.UPITotal = totals.UPI
		record.CardTotal = totals.Card
		record.GrandTotal = totals.Grand
		record.TransactionCount = totals.Count
		record.ClosedBy = actor
		record.ClosedAt = &now
		record.Version++
		record.UpdatedAt = now
		closed = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (s *Service) withCloseLock(ctx context.Context, clinicID, date string, fn func() error) error {
	if !s.locker.Enabled() {
		return fn()
	}
	key := fmt.Sprintf("settlement:close:%s:%s", clinicID, date)
	token, ok, err := s.locker.TryLock(ctx, key, closeLockTTL)
	if err != nil {
		s.log.Warn("settlement close lock unavailable", zap.String("key", key), zap.Error(err))
		return errs.Concurrency(domain.ErrCloseInProgress, date, "close lock unavailable")
	}
	if !ok {
		return errs.Concurrency(domain.ErrCloseInProgress, date, "another close is in progress")
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("failed to release settlement close lock", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn()
}

// recordRejection writes the audit entry for a refused close. It runs
// outside the close transaction, which has already rolled back.
func (s *Service) recordRejection(ctx context.Context, clinicID, date, actor string, cause error) {
	log := obslogger.WithSettlement(s.log, clinicID, date)
	kind, code, _, state, detail, ok := errs.Describe(cause)
	if !ok {
		log.Error("settlement close failed", zap.Error(cause))
		return
	}
	if state == "" {
		state = string(domain.StatusOpen)
	}

	s.obsMetrics.RecordSettlementRejected(ctx, clinicID, code)
	log.Warn("settlement close rejected",
		zap.String("actor", actor),
		zap.String("reason", code),
		zap.String("detail", detail),
	)

	if err := s.auditSvc.Record(ctx, auditdomain.RecordRequest{
		ClinicID:    clinicID,
		Actor:       actor,
		Event:       auditdomain.EventSettlementCloseRejected,
		SubjectType: "settlement",
		SubjectID:   date,
		BeforeState: state,
		AfterState:  state,
		Reason:      code,
		Metadata: map[string]any{
			"kind":   string(kind),
			"detail": detail,
		},
	}); err != nil {
		log.Error("failed to audit settlement rejection", zap.Error(err))
	}
}

func (s *Service) RecordCorrection(ctx context.Context, req domain.CorrectionRequest) error {
	clinicID, date, err := normalizeDay(req.ClinicID, req.Date)
	if err != nil {
		return err
	}
	channel, err := ledgerdomain.ParseChannel(req.Channel)
	if err != nil {
		return err
	}
	if req.Amount == 0 {
		return errs.Validation(domain.ErrInvalidCorrection, date, "correction amount must be non-zero")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return errs.Validation(domain.ErrInvalidCorrection, date, "correction reason is required")
	}
	actor := resolveActor(ctx, req.Actor)

	record, err := s.repo.Find(ctx, s.db, clinicID, date)
	if err != nil {
		return err
	}
	if record == nil || !record.Closed() {
		return errs.State(domain.ErrSettlementNotClosed, date, string(domain.StatusOpen), "corrections apply to closed days only")
	}

	if err := s.auditSvc.Record(ctx, auditdomain.RecordRequest{
		ClinicID:    clinicID,
		Actor:       actor,
		Event:       auditdomain.EventSettlementCorrection,
		SubjectType: "settlement",
		SubjectID:   date,
		BeforeState: string(domain.StatusClosed),
		AfterState:  string(domain.StatusClosed),
		Reason:      reason,
		Metadata: map[string]any{
			"channel":     string(channel),
			"amount":      req.Amount,
			"grand_total": record.GrandTotal,
		},
	}); err != nil {
		return err
	}

	obslogger.WithSettlement(s.log, clinicID, date).Info("settlement correction recorded",
		zap.String("channel", string(channel)),
		zap.Int64("amount", req.Amount),
		zap.String("actor", actor),
	)
	return nil
}

func alreadyClosed(date string) error {
	return errs.State(domain.ErrAlreadyClosed, date, string(domain.StatusClosed), "already closed")
}

func normalizeDay(clinicID, date string) (string, string, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return "", "", errs.Validation(domain.ErrInvalidClinic, "", "clinic id is required")
	}
	day, err := ledgerdomain.ParseDate(date)
	if err != nil {
		return "", "", err
	}
	return clinicID, day, nil
}

func resolveActor(ctx context.Context, actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = auditcontext.ActorFromContext(ctx)
	}
	if actor == "" {
		actor = auditdomain.ActorSystem
	}
	return actor
}
