package repository

import (
	"context"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectSettlement = `SELECT id, clinic_id, date, status, cash_total, upi_total, card_total,
	grand_total, transaction_count, closed_by, closed_at, version, created_at, updated_at
 FROM settlements WHERE clinic_id = ? AND date = ?`

func (r *repo) EnsureOpen(ctx context.Context, db *gorm.DB, record *domain.Settlement) (*domain.Settlement, error) {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO settlements (
			id, clinic_id, date, status, cash_total, upi_total, card_total,
			grand_total, transaction_count, closed_by, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, 0, 0, 0, 0, 0, '', 0, ?, ?)
		ON CONFLICT (clinic_id, date) DO NOTHING`,
		record.ID,
		record.ClinicID,
		record.Date,
		string(domain.StatusOpen),
		record.CreatedAt,
		record.CreatedAt,
	).Error
	if err != nil {
		return nil, err
	}
	return r.Find(ctx, db, record.ClinicID, record.Date)
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, clinicID, date string) (*domain.Settlement, error) {
	var record domain.Settlement
	if err := db.WithContext(ctx).Raw(selectSettlement, clinicID, date).Scan(&record).Error; err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) BumpVersion(ctx context.Context, db *gorm.DB, record *domain.Settlement, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE settlements
		 SET version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND version = ?`,
		at,
		record.ID,
		string(domain.StatusOpen),
		record.Version,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Close(ctx context.Context, db *gorm.DB, record *domain.Settlement, totals domain.ChannelTotals, actor string, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE settlements
		 SET status = ?, cash_total = ?, upi_total = ?, card_total = ?, grand_total = ?,
			transaction_count = ?, closed_by = ?, closed_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND version = ?`,
		string(domain.StatusClosed),
		totals.Cash,
		totals.UPI,
		totals.Card,
		totals.Grand,
		totals.Count,
		actor,
		at,
		at,
		record.ID,
		string(domain.StatusOpen),
		record.Version,
	)
	return result.RowsAffected, result.Error
}
