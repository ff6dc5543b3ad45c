package service

import (
	"context"
	"slices"
	"strings"

	auditdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	billingdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/config"
	invoicedomain "github.com/Nobledental/NOBLE-OS-sub002/internal/invoice/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/invoice/format"
	obsmetrics "github.com/Nobledental/NOBLE-OS-sub002/internal/observability/metrics"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/db"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// draftNamespace scopes derived draft ids.
var draftNamespace = uuid.MustParse("5b0c7f0e-3b9a-4f63-9d7c-6a3f2f1e8c41")

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       invoicedomain.Repository
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	template   string
	repo       invoicedomain.Repository
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	template := strings.TrimSpace(p.Config.InvoiceNumberTemplate)
	if template == "" {
		template = format.DefaultInvoiceNumberTemplate
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		template:   template,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Aggregate(ctx context.Context, req invoicedomain.AggregateRequest) (invoicedomain.AggregateResult, error) {
	clinicID := strings.TrimSpace(req.ClinicID)
	if clinicID == "" {
		return invoicedomain.AggregateResult{}, errs.Validation(invoicedomain.ErrInvalidClinic, "", "clinic id is required")
	}
	if len(req.Lines) == 0 {
		return invoicedomain.AggregateResult{}, errs.Validation(invoicedomain.ErrNoLines, clinicID, "an invoice needs at least one line")
	}

	refs, err := lineReferences(clinicID, req.Lines)
	if err != nil {
		return invoicedomain.AggregateResult{}, err
	}
	totals := invoicedomain.ComputeTotals(req.Lines)

	draftID := strings.TrimSpace(req.DraftID)
	if draftID == "" {
		draftID = deriveDraftID(clinicID, refs)
	}

	var (
		invoice  *invoicedomain.Invoice
		assigned bool
	)
	err = errs.RetryOnConflict(ctx, func(ctx context.Context) error {
		var err error
		invoice, assigned, err = s.assignNumber(ctx, clinicID, draftID, refs, totals)
		return err
	})
	if err != nil {
		return invoicedomain.AggregateResult{}, err
	}

	if assigned {
		s.obsMetrics.RecordInvoiceNumber(ctx, clinicID)
		s.log.Info("invoice number assigned",
			zap.String("clinic_id", clinicID),
			zap.String("draft_id", draftID),
			zap.String("invoice_number", invoice.InvoiceNumber),
			zap.Int64("total", totals.Total),
		)
	}

	return invoicedomain.AggregateResult{
		Totals:        invoice.Totals(),
		DraftID:       draftID,
		InvoiceNumber: invoice.InvoiceNumber,
		Lines:         req.Lines,
	}, nil
}

// assignNumber returns the draft's existing number or allocates the next
// clinic sequence. A unique violation means another writer took the sequence
// or the draft first and is reported as a ConcurrencyError.
func (s *Service) assignNumber(ctx context.Context, clinicID, draftID string, refs []string, totals invoicedomain.Totals) (*invoicedomain.Invoice, bool, error) {
	var (
		result   *invoicedomain.Invoice
		assigned bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByDraft(ctx, tx, clinicID, draftID)
		if err != nil {
			return err
		}
		if existing != nil {
			if !slices.Equal([]string(existing.LineReferences), refs) {
				return errs.State(invoicedomain.ErrDraftMismatch, draftID, "numbered", "draft was numbered with a different set of lines")
			}
			result = existing
			return nil
		}

		seq, err := s.repo.NextSequence(ctx, tx, clinicID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		number, err := format.FormatInvoiceNumber(s.template, clinicID, now, seq)
		if err != nil {
			return err
		}

		invoice := &invoicedomain.Invoice{
			ID:             s.genID.Generate(),
			ClinicID:       clinicID,
			DraftID:        draftID,
			Sequence:       seq,
			InvoiceNumber:  number,
			SubtotalAmount: totals.Subtotal,
			TaxAmount:      totals.Tax,
			TotalAmount:    totals.Total,
			LineReferences: datatypes.NewJSONSlice(refs),
			IssuedAt:       now,
			CreatedAt:      now,
		}
		if err := s.repo.Insert(ctx, tx, invoice); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errs.Concurrency(invoicedomain.ErrNumberingConflict, draftID, "invoice sequence taken concurrently")
			}
			return err
		}

		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.RecordRequest{
			ClinicID:    clinicID,
			Event:       auditdomain.EventInvoiceNumberAssigned,
			SubjectType: "invoice",
			SubjectID:   invoice.ID.String(),
			AfterState:  number,
			Metadata: map[string]any{
				"draft_id": draftID,
				"sequence": seq,
				"total":    totals.Total,
			},
		}); err != nil {
			return err
		}

		result = invoice
		assigned = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, assigned, nil
}

func (s *Service) GetByDraft(ctx context.Context, clinicID, draftID string) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindByDraft(ctx, s.db, strings.TrimSpace(clinicID), strings.TrimSpace(draftID))
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func lineReferences(clinicID string, lines []billingdomain.InvoiceLine) ([]string, error) {
	refs := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		ref := line.Reference
		if ref == "" {
			ref = billingdomain.LineReference(line.TreatmentID)
		}
		if line.ClinicID != "" && line.ClinicID != clinicID {
			return nil, errs.Validation(invoicedomain.ErrForeignLine, ref, "line belongs to clinic "+line.ClinicID)
		}
		if _, dup := seen[ref]; dup {
			return nil, errs.Validation(invoicedomain.ErrDuplicateLine, ref, "line appears twice")
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	slices.Sort(refs)
	return refs, nil
}

func deriveDraftID(clinicID string, refs []string) string {
	key := clinicID + "|" + strings.Join(refs, ",")
	return "lines-" + uuid.NewSHA1(draftNamespace, []byte(key)).String()
}
