// Package domain contains the invoice aggregate and its numbering record.
package domain

import (
	"time"

	billingdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Totals are in minor currency units. Tax is the sum of per-line rounded tax.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

// ComputeTotals sums lines in order. Each line's tax is rounded on its own
// before summing so the aggregate never drifts from the printed lines.
func ComputeTotals(lines []billingdomain.InvoiceLine) Totals {
	var totals Totals
	for _, line := range lines {
		totals.Subtotal += line.Subtotal()
		totals.Tax += line.Tax()
	}
	totals.Total = totals.Subtotal + totals.Tax
	return totals
}

// Invoice records a number assigned to a draft. One row per (clinic, draft).
type Invoice struct {
	ID             snowflake.ID                `gorm:"primaryKey" json:"id,string"`
	ClinicID       string                      `gorm:"type:text;not null;uniqueIndex:ux_invoices_clinic_sequence,priority:1;uniqueIndex:ux_invoices_draft,priority:1" json:"clinic_id"`
	DraftID        string                      `gorm:"type:text;not null;uniqueIndex:ux_invoices_draft,priority:2" json:"draft_id"`
	Sequence       int64                       `gorm:"not null;uniqueIndex:ux_invoices_clinic_sequence,priority:2" json:"sequence"`
	InvoiceNumber  string                      `gorm:"type:text;not null" json:"invoice_number"`
	SubtotalAmount int64                       `gorm:"not null" json:"subtotal_amount"`
	TaxAmount      int64                       `gorm:"not null" json:"tax_amount"`
	TotalAmount    int64                       `gorm:"not null" json:"total_amount"`
	LineReferences datatypes.JSONSlice[string] `gorm:"type:json" json:"line_references"`
	IssuedAt       time.Time                   `gorm:"not null" json:"issued_at"`
	CreatedAt      time.Time                   `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Totals returns the amounts frozen on the invoice row.
func (i Invoice) Totals() Totals {
	return Totals{Subtotal: i.SubtotalAmount, Tax: i.TaxAmount, Total: i.TotalAmount}
}
