package repository

import (
	"context"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_transactions (
			id, clinic_id, date, channel, amount, reference, recorded_by,
			verified, verified_by, verified_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.ClinicID,
		txn.Date,
		string(txn.Channel),
		txn.Amount,
		txn.Reference,
		txn.RecordedBy,
		txn.Verified,
		txn.VerifiedBy,
		txn.VerifiedAt,
		txn.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, clinicID string, id snowflake.ID) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, clinic_id, date, channel, amount, reference, recorded_by,
			verified, verified_by, verified_at, created_at
		 FROM ledger_transactions WHERE clinic_id = ? AND id = ?`,
		clinicID,
		id,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) ListByDay(ctx context.Context, db *gorm.DB, clinicID, date string) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("clinic_id = ? AND date = ?", clinicID, date).
		Order("created_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkVerified(ctx context.Context, db *gorm.DB, txn *domain.Transaction, actor string, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE ledger_transactions
		 SET verified = ?, verified_by = ?, verified_at = ?
		 WHERE id = ? AND verified = ?`,
		true,
		actor,
		at,
		txn.ID,
		false,
	)
	return result.RowsAffected, result.Error
}
