package domain

import (
	"strings"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
)

// Channel is the payment channel a front-desk transaction was taken on.
type Channel string

const (
	ChannelCash Channel = "CASH"
	ChannelUPI  Channel = "UPI"
	ChannelCard Channel = "CARD"
)

// DateLayout is the calendar-day key shared by the ledger and settlements.
const DateLayout = "2006-01-02"

func ParseChannel(raw string) (Channel, error) {
	channel := Channel(strings.ToUpper(strings.TrimSpace(raw)))
	switch channel {
	case ChannelCash, ChannelUPI, ChannelCard:
		return channel, nil
	default:
		return "", errs.Validation(ErrInvalidChannel, raw, "channel must be one of CASH, UPI, CARD")
	}
}

// ParseDate normalizes a YYYY-MM-DD business date.
func ParseDate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := time.Parse(DateLayout, trimmed)
	if err != nil {
		return "", errs.Validation(ErrInvalidDate, raw, "date must be YYYY-MM-DD")
	}
	return parsed.Format(DateLayout), nil
}

// Transaction is one payment fact recorded by front-desk staff. Verified
// only ever moves from false to true.
type Transaction struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id,string"`
	ClinicID   string       `gorm:"type:text;not null;index:idx_ledger_transactions_day,priority:1" json:"clinic_id"`
	Date       string       `gorm:"type:text;not null;index:idx_ledger_transactions_day,priority:2" json:"date"`
	Channel    Channel      `gorm:"type:text;not null" json:"channel"`
	Amount     int64        `gorm:"not null" json:"amount"`
	Reference  string       `gorm:"type:text" json:"reference,omitempty"`
	RecordedBy string       `gorm:"type:text" json:"recorded_by,omitempty"`
	Verified   bool         `gorm:"not null;default:false" json:"verified"`
	VerifiedBy string       `gorm:"type:text" json:"verified_by,omitempty"`
	VerifiedAt *time.Time   `json:"verified_at,omitempty"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "ledger_transactions" }
