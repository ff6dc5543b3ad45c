package domain

import (
	"context"
	"errors"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordRequest struct {
	ClinicID    string
	Actor       string
	Event       string
	SubjectType string
	SubjectID   string
	BeforeState string
	AfterState  string
	Reason      string
	Metadata    map[string]any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	ClinicID    string
	Event       string
	SubjectType string
	SubjectID   string
	Actor       string
	StartAt     *time.Time
	EndAt       *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	// Record appends an entry using the service connection.
	Record(ctx context.Context, req RecordRequest) error
	// RecordTx appends an entry inside the caller's transaction.
	RecordTx(ctx context.Context, tx *gorm.DB, req RecordRequest) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

// Repository is insert-only; there is no update or delete path.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrInvalidClinic    = errors.New("invalid_clinic")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidSubject   = errors.New("invalid_subject")
)
