package domain

import (
	"context"
	"errors"

	billingdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	"gorm.io/gorm"
)

type AggregateRequest struct {
	ClinicID string
	// DraftID keys number assignment. When empty it is derived from the
	// line references, so the same set of lines always maps to one number.
	DraftID string
	Lines   []billingdomain.InvoiceLine
}

type AggregateResult struct {
	Totals
	DraftID       string                      `json:"draft_id"`
	InvoiceNumber string                      `json:"invoice_number"`
	Lines         []billingdomain.InvoiceLine `json:"lines"`
}

type Service interface {
	// Aggregate totals the lines and assigns an invoice number idempotently per draft.
	Aggregate(ctx context.Context, req AggregateRequest) (AggregateResult, error)
	GetByDraft(ctx context.Context, clinicID, draftID string) (*Invoice, error)
}

type Repository interface {
	FindByDraft(ctx context.Context, db *gorm.DB, clinicID, draftID string) (*Invoice, error)
	NextSequence(ctx context.Context, db *gorm.DB, clinicID string) (int64, error)
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
}

var (
	ErrInvalidClinic     = errors.New("invalid_clinic")
	ErrNoLines           = errors.New("no_invoice_lines")
	ErrForeignLine       = errors.New("line_belongs_to_other_clinic")
	ErrDuplicateLine     = errors.New("duplicate_invoice_line")
	ErrDraftMismatch     = errors.New("draft_lines_mismatch")
	ErrNumberingConflict = errors.New("invoice_numbering_conflict")
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
)
