package repository

import (
	"context"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByDraft(ctx context.Context, db *gorm.DB, clinicID, draftID string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, clinic_id, draft_id, sequence, invoice_number,
			subtotal_amount, tax_amount, total_amount, line_references, issued_at, created_at
		 FROM invoices WHERE clinic_id = ? AND draft_id = ?`,
		clinicID,
		draftID,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) NextSequence(ctx context.Context, db *gorm.DB, clinicID string) (int64, error) {
	var next int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(sequence), 0) + 1
		 FROM invoices
		 WHERE clinic_id = ?`,
		clinicID,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, clinic_id, draft_id, sequence, invoice_number,
			subtotal_amount, tax_amount, total_amount, line_references, issued_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.ClinicID,
		invoice.DraftID,
		invoice.Sequence,
		invoice.InvoiceNumber,
		invoice.SubtotalAmount,
		invoice.TaxAmount,
		invoice.TotalAmount,
		invoice.LineReferences,
		invoice.IssuedAt,
		invoice.CreatedAt,
	).Error
}
