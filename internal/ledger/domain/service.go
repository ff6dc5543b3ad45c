package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type AppendRequest struct {
	ClinicID   string
	Date       string
	Channel    string
	Amount     int64
	Reference  string
	RecordedBy string
}

type VerifyRequest struct {
	ClinicID string
	ID       snowflake.ID
	Actor    string
}

type Service interface {
	Append(ctx context.Context, req AppendRequest) (*Transaction, error)
	List(ctx context.Context, clinicID, date string) ([]Transaction, error)
	// Verify is idempotent; verifying a verified transaction returns it
	// unchanged.
	Verify(ctx context.Context, req VerifyRequest) (*Transaction, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindByID(ctx context.Context, db *gorm.DB, clinicID string, id snowflake.ID) (*Transaction, error)
	ListByDay(ctx context.Context, db *gorm.DB, clinicID, date string) ([]Transaction, error)
	MarkVerified(ctx context.Context, db *gorm.DB, txn *Transaction, actor string, at time.Time) (int64, error)
}

var (
	ErrInvalidClinic       = errors.New("invalid_clinic")
	ErrInvalidDate         = errors.New("invalid_date")
	ErrInvalidChannel      = errors.New("invalid_channel")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrTransactionNotFound = errors.New("transaction_not_found")
	ErrSettlementClosed    = errors.New("settlement_closed")
	ErrLedgerConflict      = errors.New("ledger_conflict")
)
