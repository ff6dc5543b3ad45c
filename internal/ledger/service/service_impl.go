package service

import (
	"context"
	"fmt"
	"strings"

	auditdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/auditcontext"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	ledgerdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	obsmetrics "github.com/Nobledental/NOBLE-OS-sub002/internal/observability/metrics"
	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           ledgerdomain.Repository
	SettlementRepo settlementdomain.Repository
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           ledgerdomain.Repository
	settlementRepo settlementdomain.Repository
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("ledger.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		settlementRepo: p.SettlementRepo,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) Append(ctx context.Context, req ledgerdomain.AppendRequest) (*ledgerdomain.Transaction, error) {
	clinicID := strings.TrimSpace(req.ClinicID)
	if clinicID == "" {
		return nil, errs.Validation(ledgerdomain.ErrInvalidClinic, "", "clinic id is required")
	}
	date, err := ledgerdomain.ParseDate(req.Date)
	if err != nil {
		return nil, err
	}
	channel, err := ledgerdomain.ParseChannel(req.Channel)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, errs.Validation(ledgerdomain.ErrInvalidAmount, fmt.Sprintf("%d", req.Amount), "amount must be positive")
	}

	txn := &ledgerdomain.Transaction{
		ID:         s.genID.Generate(),
		ClinicID:   clinicID,
		Date:       date,
		Channel:    channel,
		Amount:     req.Amount,
		Reference:  strings.TrimSpace(req.Reference),
		RecordedBy: resolveActor(ctx, req.RecordedBy),
	}

	err = errs.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txn.CreatedAt = s.clock.Now()
			if err := s.touchOpenDay(ctx, tx, clinicID, date); err != nil {
				return err
			}
			return s.repo.Insert(ctx, tx, txn)
		})
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordLedgerTransaction(ctx, clinicID, string(channel))
	s.log.Info("ledger transaction recorded",
		zap.String("clinic_id", clinicID),
		zap.String("date", date),
		zap.String("channel", string(channel)),
		zap.Int64("amount", txn.Amount),
		zap.String("transaction_id", txn.ID.String()),
	)
	return txn, nil
}

func (s *Service) List(ctx context.Context, clinicID, date string) ([]ledgerdomain.Transaction, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return nil, errs.Validation(ledgerdomain.ErrInvalidClinic, "", "clinic id is required")
	}
	day, err := ledgerdomain.ParseDate(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByDay(ctx, s.db, clinicID, day)
}

func (s *Service) Verify(ctx context.Context, req ledgerdomain.VerifyRequest) (*ledgerdomain.Transaction, error) {
	clinicID := strings.TrimSpace(req.ClinicID)
	if clinicID == "" {
		return nil, errs.Validation(ledgerdomain.ErrInvalidClinic, req.ID.String(), "clinic id is required")
	}
	actor := resolveActor(ctx, req.Actor)

	var (
		result  *ledgerdomain.Transaction
		changed bool
	)
	err := errs.RetryOnConflict(ctx, func(ctx context.Context) error {
		changed = false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txn, err := s.repo.FindByID(ctx, tx, clinicID, req.ID)
			if err != nil {
				return err
			}
			if txn == nil {
				return ledgerdomain.ErrTransactionNotFound
			}
			if txn.Verified {
				result = txn
				return nil
			}

			if err := s.touchOpenDay(ctx, tx, clinicID, txn.Date); err != nil {
				return err
			}

			now := s.clock.Now()
			rows, err := s.repo.MarkVerified(ctx, tx, txn, actor, now)
			if err != nil {
				return err
			}
			if rows == 0 {
				latest, err := s.repo.FindByID(ctx, tx, clinicID, req.ID)
				if err != nil {
					return err
				}
				result = latest
				return nil
			}

			txn.Verified = true
			txn.VerifiedBy = actor
			txn.VerifiedAt = &now
			result = txn
			changed = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Info("ledger transaction verified",
			zap.String("clinic_id", clinicID),
			zap.String("transaction_id", req.ID.String()),
			zap.String("actor", actor),
		)
	}
	return result, nil
}

// touchOpenDay advances the day's settlement version so that a close that
// read the day before this write loses its compare-and-swap.
func (s *Service) touchOpenDay(ctx context.Context, tx *gorm.DB, clinicID, date string) error {
	now := s.clock.Now()
	record, err := s.settlementRepo.EnsureOpen(ctx, tx, &settlementdomain.Settlement{
		ID:        s.genID.Generate(),
		ClinicID:  clinicID,
		Date:      date,
		Status:    settlementdomain.StatusOpen,
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
		return errs.State(ledgerdomain.ErrSettlementClosed, date, string(record.Status), "the day is already closed")
	}

	rows, err := s.settlementRepo.BumpVersion(ctx, tx, record, now)
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	latest, err := s.settlementRepo.Find(ctx, tx, clinicID, date)
	if err != nil {
		return err
	}
	if latest != nil && latest.Closed() {
		return errs.State(ledgerdomain.ErrSettlementClosed, date, string(latest.Status), "the day was closed concurrently")
	}
	return errs.Concurrency(ledgerdomain.ErrLedgerConflict, date, "settlement changed while recording")
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
