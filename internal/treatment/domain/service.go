package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PlanRequest struct {
	ClinicID  string `json:"clinic_id"`
	Procedure string `json:"procedure"`
	Teeth     []int  `json:"teeth"`
}

type ListRequest struct {
	ClinicID string
	Status   string
	Billed   *bool
	Limit    int
}

type Service interface {
	Plan(ctx context.Context, req PlanRequest) (*Treatment, error)
	Start(ctx context.Context, clinicID string, id snowflake.ID) (*Treatment, error)
	Complete(ctx context.Context, clinicID string, id snowflake.ID) (*Treatment, error)
	Get(ctx context.Context, clinicID string, id snowflake.ID) (*Treatment, error)
	List(ctx context.Context, req ListRequest) ([]Treatment, error)
	ListBillable(ctx context.Context, clinicID string) ([]Treatment, error)
}

// Repository methods take the connection explicitly so callers can run them
// inside their own transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, t *Treatment) error
	FindByID(ctx context.Context, db *gorm.DB, clinicID string, id snowflake.ID) (*Treatment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Treatment, error)
	// UpdateStatus moves the row to next if it still has t.Version, returning rows affected.
	UpdateStatus(ctx context.Context, db *gorm.DB, t *Treatment, next Status, at time.Time) (int64, error)
	// MarkBilled flips billed from false to true if the row still has t.Version.
	MarkBilled(ctx context.Context, db *gorm.DB, t *Treatment, at time.Time) (int64, error)
}

var (
	ErrTreatmentNotFound = errors.New("treatment_not_found")
	ErrInvalidClinic     = errors.New("invalid_clinic")
	ErrInvalidRequest    = errors.New("invalid_treatment")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrStatusConflict    = errors.New("treatment_status_conflict")
)
