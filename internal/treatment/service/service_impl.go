package service

import (
	"context"
	"strings"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	tariffdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/tariff/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/tooth"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Catalog tariffdomain.Catalog
	Clock   clock.Clock
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	catalog tariffdomain.Catalog
	clock   clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("treatment.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		catalog: p.Catalog,
		clock:   p.Clock,
	}
}

func (s *Service) Plan(ctx context.Context, req domain.PlanRequest) (*domain.Treatment, error) {
	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.Procedure = strings.TrimSpace(req.Procedure)
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.ClinicID, validation.Required),
		validation.Field(&req.Procedure, validation.Required),
		validation.Field(&req.Teeth, validation.By(validTeeth)),
	); err != nil {
		return nil, errs.Validation(domain.ErrInvalidRequest, req.Procedure, err.Error())
	}
	procedure := tariffdomain.ParseProcedure(req.Procedure)
	if _, err := s.catalog.Resolve(procedure, req.Teeth); err != nil {
		return nil, err
	}

	teeth := append([]int{}, req.Teeth...)
	now := s.clock.Now()
	t := &domain.Treatment{
		ID:         s.genID.Generate(),
		ClinicID:   req.ClinicID,
		Procedure:  procedure,
		Teeth:      datatypes.NewJSONSlice(teeth),
		TeethCount: len(teeth),
		Status:     domain.StatusPlanned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, t); err != nil {
		return nil, err
	}

	s.log.Info("treatment planned",
		zap.String("clinic_id", t.ClinicID),
		zap.String("treatment_id", t.ID.String()),
		zap.String("procedure", string(t.Procedure)),
	)
	return t, nil
}

func (s *Service) Start(ctx context.Context, clinicID string, id snowflake.ID) (*domain.Treatment, error) {
	return s.transition(ctx, clinicID, id, domain.StatusInProgress)
}

func (s *Service) Complete(ctx context.Context, clinicID string, id snowflake.ID) (*domain.Treatment, error) {
	return s.transition(ctx, clinicID, id, domain.StatusCompleted)
}

func (s *Service) transition(ctx context.Context, clinicID string, id snowflake.ID, next domain.Status) (*domain.Treatment, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return nil, errs.Validation(domain.ErrInvalidClinic, id.String(), "clinic id is required")
	}

	var updated *domain.Treatment
	err := errs.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.FindByID(ctx, tx, clinicID, id)
			if err != nil {
				return err
			}
			if current == nil {
				return domain.ErrTreatmentNotFound
			}
			if current.Status == next {
				updated = current
				return nil
			}
			if !current.CanTransition(next) {
				return errs.State(domain.ErrInvalidTransition, id.String(), string(current.Status),
					"cannot move to "+string(next))
			}

			now := s.clock.Now()
			rows, err := s.repo.UpdateStatus(ctx, tx, current, next, now)
			if err != nil {
				return err
			}
			if rows == 0 {
				return errs.Concurrency(domain.ErrStatusConflict, id.String(), "treatment changed concurrently")
			}

			updated, err = s.repo.FindByID(ctx, tx, clinicID, id)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("treatment status changed",
		zap.String("clinic_id", clinicID),
		zap.String("treatment_id", id.String()),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, clinicID string, id snowflake.ID) (*domain.Treatment, error) {
	t, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(clinicID), id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrTreatmentNotFound
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Treatment, error) {
	clinicID := strings.TrimSpace(req.ClinicID)
	if clinicID == "" {
		return nil, errs.Validation(domain.ErrInvalidClinic, "", "clinic id is required")
	}

	filter := domain.ListFilter{ClinicID: clinicID, Billed: req.Billed, Limit: req.Limit}
	if status := strings.ToLower(strings.TrimSpace(req.Status)); status != "" {
		switch domain.Status(status) {
		case domain.StatusPlanned, domain.StatusInProgress, domain.StatusCompleted:
			filter.Status = domain.Status(status)
		default:
			return nil, errs.Validation(domain.ErrInvalidStatus, status, "unknown treatment status")
		}
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) ListBillable(ctx context.Context, clinicID string) ([]domain.Treatment, error) {
	billed := false
	return s.List(ctx, domain.ListRequest{
		ClinicID: clinicID,
		Status:   string(domain.StatusCompleted),
		Billed:   &billed,
	})
}

func validTeeth(value any) error {
	teeth, _ := value.([]int)
	if err := tooth.Validate(teeth); err != nil {
		return validation.NewError("validation_invalid_tooth", err.Error())
	}
	return nil
}
