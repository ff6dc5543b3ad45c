package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type CloseRequest struct {
	ClinicID string
	Date     string
	Actor    string
}

// CorrectionRequest describes a compensating adjustment to a closed day.
// Amount may be negative.
type CorrectionRequest struct {
	ClinicID string
	Date     string
	Actor    string
	Channel  string
	Amount   int64
	Reason   string
}

type Service interface {
	Status(ctx context.Context, clinicID, date string) (StatusView, error)
	LiveTotals(ctx context.Context, clinicID, date string) (ChannelTotals, error)
	Get(ctx context.Context, clinicID, date string) (*Settlement, error)
	CloseDay(ctx context.Context, req CloseRequest) (*Settlement, error)
	RecordCorrection(ctx context.Context, req CorrectionRequest) error
}

type Repository interface {
	// EnsureOpen creates the OPEN record for the day when missing and
	// returns the stored record either way.
	EnsureOpen(ctx context.Context, db *gorm.DB, record *Settlement) (*Settlement, error)
	Find(ctx context.Context, db *gorm.DB, clinicID, date string) (*Settlement, error)
	// BumpVersion advances the version of an OPEN record read at
	// record.Version. Zero rows means the record moved on.
	BumpVersion(ctx context.Context, db *gorm.DB, record *Settlement, at time.Time) (int64, error)
	// Close moves an OPEN record read at record.Version to CLOSED with the
	// given totals. Zero rows means the record moved on.
	Close(ctx context.Context, db *gorm.DB, record *Settlement, totals ChannelTotals, actor string, at time.Time) (int64, error)
}

// ReportDispatcher renders the settlement report after a close. It must not
// block and must not fail the close.
type ReportDispatcher interface {
	Dispatch(ctx context.Context, record Settlement)
}

var (
	ErrInvalidClinic          = errors.New("invalid_clinic")
	ErrInvalidActor           = errors.New("invalid_actor")
	ErrInvalidCorrection      = errors.New("invalid_correction")
	ErrSettlementNotFound     = errors.New("settlement_not_found")
	ErrAlreadyClosed          = errors.New("settlement_already_closed")
	ErrNoTransactions         = errors.New("no_transactions")
	ErrUnverifiedTransactions = errors.New("unverified_transactions_present")
	ErrSettlementNotClosed    = errors.New("settlement_not_closed")
	ErrSettlementConflict     = errors.New("settlement_conflict")
	ErrCloseInProgress        = errors.New("settlement_close_in_progress")
)
