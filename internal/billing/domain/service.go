package domain

import (
	"context"
	"errors"

	treatmentdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Calculator prices a treatment without touching storage.
type Calculator interface {
	Compute(t treatmentdomain.Treatment) (InvoiceLine, error)
}

type BillFailure struct {
	TreatmentID snowflake.ID `json:"treatment_id,string"`
	Error       error        `json:"-"`
	Message     string       `json:"error"`
}

type BillRunResult struct {
	Lines    []InvoiceLine `json:"lines"`
	Failures []BillFailure `json:"failures"`
}

type ListLinesRequest struct {
	ClinicID     string
	TreatmentIDs []snowflake.ID
}

type Service interface {
	// ComputeInvoiceLines prices the given treatments without committing anything.
	ComputeInvoiceLines(ctx context.Context, clinicID string, treatmentIDs []snowflake.ID) ([]InvoiceLine, error)
	// BillTreatment prices one treatment and commits the line together with
	// its billed flag.
	BillTreatment(ctx context.Context, clinicID string, treatmentID snowflake.ID) (*InvoiceLine, error)
	// BillCompleted bills every completed, unbilled treatment of a clinic.
	BillCompleted(ctx context.Context, clinicID string) (BillRunResult, error)
	ListLines(ctx context.Context, req ListLinesRequest) ([]InvoiceLine, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, line *InvoiceLine) error
	FindByTreatment(ctx context.Context, db *gorm.DB, clinicID string, treatmentID snowflake.ID) (*InvoiceLine, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]InvoiceLine, error)
}

var (
	ErrInvalidClinic          = errors.New("invalid_clinic")
	ErrTreatmentNotCompleted  = errors.New("treatment_not_completed")
	ErrTreatmentAlreadyBilled = errors.New("treatment_already_billed")
	ErrAmbiguousQuantity      = errors.New("ambiguous_quantity")
	ErrBillingConflict        = errors.New("billing_conflict")
)
