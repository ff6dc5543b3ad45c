package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Settlement is the per (clinic, date) day-close record. Totals are only
// authoritative once Status is CLOSED; an OPEN record carries zeros.
type Settlement struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id,string"`
	ClinicID         string       `gorm:"type:text;not null;uniqueIndex:ux_settlements_clinic_date,priority:1" json:"clinic_id"`
	Date             string       `gorm:"type:text;not null;uniqueIndex:ux_settlements_clinic_date,priority:2" json:"date"`
	Status           Status       `gorm:"type:text;not null" json:"status"`
	CashTotal        int64        `gorm:"not null;default:0" json:"cash_total"`
	UPITotal         int64        `gorm:"column:upi_total;not null;default:0" json:"upi_total"`
	CardTotal        int64        `gorm:"not null;default:0" json:"card_total"`
	GrandTotal       int64        `gorm:"not null;default:0" json:"grand_total"`
	TransactionCount int          `gorm:"not null;default:0" json:"transaction_count"`
	ClosedBy         string       `gorm:"type:text" json:"closed_by,omitempty"`
	ClosedAt         *time.Time   `json:"closed_at,omitempty"`
	Version          int64        `gorm:"not null;default:0" json:"version"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Settlement) TableName() string { return "settlements" }

func (s Settlement) Closed() bool { return s.Status == StatusClosed }

func (s Settlement) Totals() ChannelTotals {
	return ChannelTotals{
		Cash:  s.CashTotal,
		UPI:   s.UPITotal,
		Card:  s.CardTotal,
		Grand: s.GrandTotal,
		Count: s.TransactionCount,
	}
}

// ChannelTotals holds per payment channel sums in minor units.
type ChannelTotals struct {
	Cash  int64 `json:"cash"`
	UPI   int64 `json:"upi"`
	Card  int64 `json:"card"`
	Grand int64 `json:"total"`
	Count int   `json:"transaction_count"`
}

// StatusView is what the settlement screen shows for a day. For an OPEN day
// the totals are a live projection over every recorded transaction.
type StatusView struct {
	ClinicID        string        `json:"clinic_id"`
	Date            string        `json:"date"`
	Status          Status        `json:"status"`
	Totals          ChannelTotals `json:"totals"`
	Live            bool          `json:"live"`
	UnverifiedCount int           `json:"unverified_count"`
	ClosedBy        string        `json:"closed_by,omitempty"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`
}
