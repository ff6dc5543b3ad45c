package domain

import (
	"time"

	tariffdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/tariff/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/tax"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Metadata keys recorded on every invoice line.
const (
	MetaSourceTreatmentID = "source_treatment_id"
	MetaTeeth             = "teeth"
	MetaCategory          = "category"
	MetaCompletedAt       = "completed_at"
	MetaRequestedCode     = "requested_procedure"
)

// InvoiceLine is one priced entry derived from a single completed treatment.
// Lines are never updated; corrections are new lines.
type InvoiceLine struct {
	ID          snowflake.ID           `gorm:"primaryKey" json:"id,string"`
	Reference   string                 `gorm:"type:text;not null;uniqueIndex:ux_invoice_lines_reference" json:"reference"`
	ClinicID    string                 `gorm:"type:text;not null;index" json:"clinic_id"`
	TreatmentID snowflake.ID           `gorm:"not null;uniqueIndex:ux_invoice_lines_treatment" json:"treatment_id,string"`
	Procedure   tariffdomain.Procedure `gorm:"type:text;not null" json:"procedure"`
	Description string                 `gorm:"type:text;not null" json:"description"`
	UnitCost    int64                  `gorm:"not null" json:"unit_cost"`
	TaxRate     int                    `gorm:"not null" json:"tax_rate"`
	Quantity    int                    `gorm:"not null" json:"quantity"`
	Metadata    datatypes.JSONMap      `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time              `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// LineReference is the line identifier derived from its source treatment.
func LineReference(treatmentID snowflake.ID) string {
	return "TRT-" + treatmentID.String()
}

// Subtotal is unit cost times quantity.
func (l InvoiceLine) Subtotal() int64 {
	return l.UnitCost * int64(l.Quantity)
}

// Tax is the line's own rounded tax.
func (l InvoiceLine) Tax() int64 {
	return tax.ComputeExclusive(l.Subtotal(), l.TaxRate)
}

type ListFilter struct {
	ClinicID     string
	TreatmentIDs []snowflake.ID
	From         *time.Time
	To           *time.Time
}
