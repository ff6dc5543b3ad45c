package render

import (
	"context"
	"fmt"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/report/domain"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type PDFRenderer struct{}

func NewPDFRenderer() domain.Renderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) Render(ctx context.Context, data domain.Data) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Day settlement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "CLOSED", props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Clinic: "+data.ClinicID, props.Text{Top: 0}),
			text.New("Business date: "+data.Date, props.Text{Top: 5}),
			text.New(fmt.Sprintf("Transactions: %d", data.TransactionCount), props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Closed by: "+data.ClosedBy, props.Text{Top: 0, Align: align.Right}),
			text.New("Closed at: "+formatTime(data.ClosedAt), props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(8, "Channel", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, row := range []struct {
		label  string
		amount int64
	}{
		{"Cash", data.CashTotal},
		{"UPI", data.UPITotal},
		{"Card", data.CardTotal},
	} {
		m.AddRow(8,
			text.NewCol(8, row.label, props.Text{Size: 9}),
			text.NewCol(4, formatAmount(row.amount), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(12,
		col.New(6),
		text.NewCol(2, "Total", props.Text{Size: 10, Style: fontstyle.Bold, Top: 3}),
		text.NewCol(4, formatAmount(data.GrandTotal), props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right, Top: 3}),
	)

	m.AddRow(10,
		text.NewCol(12, "Generated "+formatTime(data.GeneratedAt)+". This document is derived from the closed settlement record.", props.Text{
			Size: 7,
			Top:  4,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render settlement report: %w", err)
	}
	return doc.GetBytes(), nil
}

func formatAmount(v int64) string {
	return fmt.Sprintf("INR %d", v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}
