package service

import (
	"context"
	"errors"
	"strings"

	auditdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	obsmetrics "github.com/Nobledental/NOBLE-OS-sub002/internal/observability/metrics"
	tariffdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/tariff/domain"
	treatmentdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/db"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Catalog       tariffdomain.Catalog
	Repo          domain.Repository
	TreatmentRepo treatmentdomain.Repository
	AuditSvc      auditdomain.Service
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	calc          domain.Calculator
	repo          domain.Repository
	treatmentRepo treatmentdomain.Repository
	auditSvc      auditdomain.Service
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("billing.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		calc:          NewCalculator(p.Catalog),
		repo:          p.Repo,
		treatmentRepo: p.TreatmentRepo,
		auditSvc:      p.AuditSvc,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Service) ComputeInvoiceLines(ctx context.Context, clinicID string, treatmentIDs []snowflake.ID) ([]domain.InvoiceLine, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return nil, errs.Validation(domain.ErrInvalidClinic, "", "clinic id is required")
	}

	lines := make([]domain.InvoiceLine, 0, len(treatmentIDs))
	for _, id := range treatmentIDs {
		t, err := s.treatmentRepo.FindByID(ctx, s.db, clinicID, id)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, treatmentdomain.ErrTreatmentNotFound
		}
		line, err := s.calc.Compute(*t)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (s *Service) BillTreatment(ctx context.Context, clinicID string, treatmentID snowflake.ID) (*domain.InvoiceLine, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return nil, errs.Validation(domain.ErrInvalidClinic, treatmentID.String(), "clinic id is required")
	}

	var committed *domain.InvoiceLine
	err := errs.RetryOnConflict(ctx, func(ctx context.Context) error {
		line, err := s.billOnce(ctx, clinicID, treatmentID)
		if err != nil {
			return err
		}
		committed = line
		return nil
	})
	if err != nil {
		if errs.IsConcurrency(err) {
			s.log.Warn("billing lost the race twice",
				zap.String("clinic_id", clinicID),
				zap.String("treatment_id", treatmentID.String()),
			)
		}
		return nil, err
	}

	s.obsMetrics.RecordInvoiceLine(ctx, string(committed.Procedure), categoryOf(committed))
	s.log.Info("treatment billed",
		zap.String("clinic_id", clinicID),
		zap.String("treatment_id", treatmentID.String()),
		zap.String("procedure", string(committed.Procedure)),
		zap.Int64("subtotal", committed.Subtotal()),
	)
	return committed, nil
}

// billOnce commits the billed flag and the line in one transaction. A lost
// CAS is reported as a ConcurrencyError unless the winner already billed.
func (s *Service) billOnce(ctx context.Context, clinicID string, treatmentID snowflake.ID) (*domain.InvoiceLine, error) {
	var committed *domain.InvoiceLine
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.treatmentRepo.FindByID(ctx, tx, clinicID, treatmentID)
		if err != nil {
			return err
		}
		if t == nil {
			return treatmentdomain.ErrTreatmentNotFound
		}

		line, err := s.calc.Compute(*t)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		rows, err := s.treatmentRepo.MarkBilled(ctx, tx, t, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return s.lostBillingRace(ctx, tx, clinicID, treatmentID)
		}

		line.ID = s.genID.Generate()
		line.CreatedAt = now
		if err := s.repo.Insert(ctx, tx, &line); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errs.State(domain.ErrTreatmentAlreadyBilled, treatmentID.String(), "billed", "an invoice line already exists")
			}
			return err
		}

		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.RecordRequest{
			ClinicID:    clinicID,
			Event:       auditdomain.EventTreatmentBilled,
			SubjectType: "treatment",
			SubjectID:   treatmentID.String(),
			BeforeState: "unbilled",
			AfterState:  "billed",
			Metadata: map[string]any{
				"invoice_line_id": line.ID.String(),
				"reference":       line.Reference,
				"procedure":       string(line.Procedure),
				"quantity":        line.Quantity,
				"unit_cost":       line.UnitCost,
			},
		}); err != nil {
			return err
		}

		committed = &line
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *Service) lostBillingRace(ctx context.Context, tx *gorm.DB, clinicID string, treatmentID snowflake.ID) error {
	latest, err := s.treatmentRepo.FindByID(ctx, tx, clinicID, treatmentID)
	if err != nil {
		return err
	}
	if latest != nil && latest.Billed {
		return errs.State(domain.ErrTreatmentAlreadyBilled, treatmentID.String(), "billed", "treatment already has an invoice line")
	}
	existing, err := s.repo.FindByTreatment(ctx, tx, clinicID, treatmentID)
	if err != nil {
		return err
	}
	if existing != nil {
		return errs.State(domain.ErrTreatmentAlreadyBilled, treatmentID.String(), "billed", "invoice line "+existing.Reference+" already exists")
	}
	return errs.Concurrency(domain.ErrBillingConflict, treatmentID.String(), "treatment changed while billing")
}

func (s *Service) BillCompleted(ctx context.Context, clinicID string) (domain.BillRunResult, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return domain.BillRunResult{}, errs.Validation(domain.ErrInvalidClinic, "", "clinic id is required")
	}

	billed := false
	pending, err := s.treatmentRepo.List(ctx, s.db, treatmentdomain.ListFilter{
		ClinicID: clinicID,
		Status:   treatmentdomain.StatusCompleted,
		Billed:   &billed,
	})
	if err != nil {
		return domain.BillRunResult{}, err
	}

	result := domain.BillRunResult{
		Lines:    make([]domain.InvoiceLine, 0, len(pending)),
		Failures: []domain.BillFailure{},
	}
	for _, t := range pending {
		line, err := s.BillTreatment(ctx, clinicID, t.ID)
		if err != nil {
			if !isBillingRejection(err) {
				return result, err
			}
			s.log.Warn("treatment skipped in billing run",
				zap.String("clinic_id", clinicID),
				zap.String("treatment_id", t.ID.String()),
				zap.Error(err),
			)
			result.Failures = append(result.Failures, domain.BillFailure{TreatmentID: t.ID, Error: err, Message: err.Error()})
			continue
		}
		result.Lines = append(result.Lines, *line)
	}
	return result, nil
}

func (s *Service) ListLines(ctx context.Context, req domain.ListLinesRequest) ([]domain.InvoiceLine, error) {
	clinicID := strings.TrimSpace(req.ClinicID)
	if clinicID == "" {
		return nil, errs.Validation(domain.ErrInvalidClinic, "", "clinic id is required")
	}
	return s.repo.List(ctx, s.db, domain.ListFilter{ClinicID: clinicID, TreatmentIDs: req.TreatmentIDs})
}

// isBillingRejection reports errors that belong to one treatment rather than
// to the run as a whole.
func isBillingRejection(err error) bool {
	return errs.IsValidation(err) || errs.IsState(err) || errs.IsConcurrency(err) ||
		errors.Is(err, treatmentdomain.ErrTreatmentNotFound)
}

func categoryOf(line *domain.InvoiceLine) string {
	category, _ := line.Metadata[domain.MetaCategory].(string)
	return category
}
