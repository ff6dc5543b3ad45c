package repository

import (
	"context"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, t *domain.Treatment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO treatments (
			id, clinic_id, procedure, teeth, teeth_count, status,
			completed_at, billed, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.ClinicID,
		string(t.Procedure),
		t.Teeth,
		t.TeethCount,
		string(t.Status),
		t.CompletedAt,
		t.Billed,
		t.Version,
		t.CreatedAt,
		t.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, clinicID string, id snowflake.ID) (*domain.Treatment, error) {
	var t domain.Treatment
	err := db.WithContext(ctx).Raw(
		`SELECT id, clinic_id, procedure, teeth, teeth_count, status,
			completed_at, billed, version, created_at, updated_at
		 FROM treatments WHERE clinic_id = ? AND id = ?`,
		clinicID,
		id,
	).Scan(&t).Error
	if err != nil {
		return nil, err
	}
	if t.ID == 0 {
		return nil, nil
	}
	return &t, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Treatment, error) {
	var items []domain.Treatment
	stmt := db.WithContext(ctx).
		Model(&domain.Treatment{}).
		Where("clinic_id = ?", filter.ClinicID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.Billed != nil {
		stmt = stmt.Where("billed = ?", *filter.Billed)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if err := stmt.Order("created_at asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, t *domain.Treatment, next domain.Status, at time.Time) (int64, error) {
	var completedAt *time.Time
	if next == domain.StatusCompleted {
		completedAt = &at
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE treatments
		 SET status = ?, completed_at = COALESCE(completed_at, ?), version = version + 1, updated_at = ?
		 WHERE clinic_id = ? AND id = ? AND version = ?`,
		string(next),
		completedAt,
		at,
		t.ClinicID,
		t.ID,
		t.Version,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) MarkBilled(ctx context.Context, db *gorm.DB, t *domain.Treatment, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE treatments
		 SET billed = ?, version = version + 1, updated_at = ?
		 WHERE clinic_id = ? AND id = ? AND status = ? AND billed = ? AND version = ?`,
		true,
		at,
		t.ClinicID,
		t.ID,
		string(domain.StatusCompleted),
		false,
		t.Version,
	)
	return result.RowsAffected, result.Error
}
