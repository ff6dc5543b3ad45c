package domain

import (
	"time"

	tariffdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/tariff/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Treatment is a clinical action as seen by billing. CompletedAt and Billed
// are written exactly once.
type Treatment struct {
	ID          snowflake.ID             `gorm:"primaryKey" json:"id,string"`
	ClinicID    string                   `gorm:"type:text;not null;index:idx_treatments_billable,priority:1" json:"clinic_id"`
	Procedure   tariffdomain.Procedure   `gorm:"type:text;not null" json:"procedure"`
	Teeth       datatypes.JSONSlice[int] `gorm:"type:json" json:"teeth"`
	TeethCount  int                      `gorm:"not null;default:0" json:"teeth_count"`
	Status      Status                   `gorm:"type:text;not null;index:idx_treatments_billable,priority:2" json:"status"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	Billed      bool                     `gorm:"not null;default:false;index:idx_treatments_billable,priority:3" json:"billed"`
	Version     int64                    `gorm:"not null;default:0" json:"version"`
	CreatedAt   time.Time                `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time                `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Treatment) TableName() string { return "treatments" }

// TeethList returns a copy of the affected teeth.
func (t Treatment) TeethList() []int {
	out := make([]int, len(t.Teeth))
	copy(out, t.Teeth)
	return out
}

// CanTransition reports whether status may move from t's status to next.
func (t Treatment) CanTransition(next Status) bool {
	switch t.Status {
	case StatusPlanned:
		return next == StatusInProgress || next == StatusCompleted
	case StatusInProgress:
		return next == StatusCompleted
	default:
		return false
	}
}

type ListFilter struct {
	ClinicID string
	Status   Status
	Billed   *bool
	Limit    int
}
