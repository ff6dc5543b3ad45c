package domain

import (
	"context"
	"errors"
	"time"

	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
)

// Data is the content of a settlement report. It is derived from a CLOSED
// settlement record and can always be re-created from it.
type Data struct {
	ClinicID         string
	Date             string
	CashTotal        int64
	UPITotal         int64
	CardTotal        int64
	GrandTotal       int64
	TransactionCount int
	ClosedBy         string
	ClosedAt         time.Time
	GeneratedAt      time.Time
}

func FromSettlement(record settlementdomain.Settlement, generatedAt time.Time) Data {
	data := Data{
		ClinicID:         record.ClinicID,
		Date:             record.Date,
		CashTotal:        record.CashTotal,
		UPITotal:         record.UPITotal,
		CardTotal:        record.CardTotal,
		GrandTotal:       record.GrandTotal,
		TransactionCount: record.TransactionCount,
		ClosedBy:         record.ClosedBy,
		GeneratedAt:      generatedAt,
	}
	if record.ClosedAt != nil {
		data.ClosedAt = *record.ClosedAt
	}
	return data
}

type Renderer interface {
	Render(ctx context.Context, data Data) ([]byte, error)
}

type Store interface {
	Save(ctx context.Context, clinicID, date string, doc []byte) (string, error)
	Open(ctx context.Context, clinicID, date string) ([]byte, error)
}

type Service interface {
	Generate(ctx context.Context, record settlementdomain.Settlement) (string, error)
	Regenerate(ctx context.Context, clinicID, date string) (string, error)
	Dispatch(ctx context.Context, record settlementdomain.Settlement)
}

var (
	ErrInvalidClinic       = errors.New("invalid_clinic")
	ErrSettlementNotClosed = errors.New("report_requires_closed_settlement")
	ErrReportNotFound      = errors.New("report_not_found")
	ErrInvalidPath         = errors.New("invalid_report_path")
)
