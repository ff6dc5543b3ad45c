package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const ActorSystem = "system"

// Audit events. Stored verbatim; do not rename.
const (
	EventSettlementClosed        = "settlement.closed"
	EventSettlementCloseRejected = "settlement.close_rejected"
	EventSettlementCorrection    = "settlement.correction_recorded"
	EventTreatmentBilled         = "treatment.billed"
	EventInvoiceNumberAssigned   = "invoice.number_assigned"
)

// AuditLog is an append-only record of a state transition attempt.
type AuditLog struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id,string"`
	ClinicID    string            `gorm:"type:text;not null;index" json:"clinic_id"`
	Actor       string            `gorm:"type:text;not null" json:"actor"`
	Event       string            `gorm:"type:text;not null;index" json:"event"`
	SubjectType string            `gorm:"type:text;not null" json:"subject_type"`
	SubjectID   string            `gorm:"type:text;not null;index" json:"subject_id"`
	BeforeState string            `gorm:"type:text" json:"before_state,omitempty"`
	AfterState  string            `gorm:"type:text" json:"after_state,omitempty"`
	Reason      string            `gorm:"type:text" json:"reason,omitempty"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	ClinicID    string
	Event       string
	SubjectType string
	SubjectID   string
	Actor       string
	StartAt     *time.Time
	EndAt       *time.Time
	Cursor      *AuditCursor
	Limit       int
}
