package repository

import (
	"context"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, line *domain.InvoiceLine) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoice_lines (
			id, reference, clinic_id, treatment_id, procedure, description,
			unit_cost, tax_rate, quantity, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		line.ID,
		line.Reference,
		line.ClinicID,
		line.TreatmentID,
		string(line.Procedure),
		line.Description,
		line.UnitCost,
		line.TaxRate,
		line.Quantity,
		line.Metadata,
		line.CreatedAt,
	).Error
}

func (r *repo) FindByTreatment(ctx context.Context, db *gorm.DB, clinicID string, treatmentID snowflake.ID) (*domain.InvoiceLine, error) {
	var line domain.InvoiceLine
	err := db.WithContext(ctx).Raw(
		`SELECT id, reference, clinic_id, treatment_id, procedure, description,
			unit_cost, tax_rate, quantity, metadata, created_at
		 FROM invoice_lines WHERE clinic_id = ? AND treatment_id = ?`,
		clinicID,
		treatmentID,
	).Scan(&line).Error
	if err != nil {
		return nil, err
	}
	if line.ID == 0 {
		return nil, nil
	}
	return &line, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.InvoiceLine, error) {
	var lines []domain.InvoiceLine
	stmt := db.WithContext(ctx).
		Model(&domain.InvoiceLine{}).
		Where("clinic_id = ?", filter.ClinicID)
	if len(filter.TreatmentIDs) > 0 {
		stmt = stmt.Where("treatment_id IN ?", filter.TreatmentIDs)
	}
	if filter.From != nil {
		stmt = stmt.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("created_at < ?", filter.To.UTC())
	}
	if err := stmt.Order("created_at asc, id asc").Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}
