package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	tariffdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/tariff/domain"
	treatmentdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"gorm.io/datatypes"
)

type calculator struct {
	catalog tariffdomain.Catalog
}

// NewCalculator returns the pure pricing step used by the billing service.
func NewCalculator(catalog tariffdomain.Catalog) domain.Calculator {
	return &calculator{catalog: catalog}
}

// Compute prices t. It never mutates t; marking it billed is the caller's job.
func (c *calculator) Compute(t treatmentdomain.Treatment) (domain.InvoiceLine, error) {
	subject := t.ID.String()
	if t.Status != treatmentdomain.StatusCompleted {
		return domain.InvoiceLine{}, errs.State(domain.ErrTreatmentNotCompleted, subject, string(t.Status), "only completed treatments can be billed")
	}
	if t.Billed {
		return domain.InvoiceLine{}, errs.State(domain.ErrTreatmentAlreadyBilled, subject, "billed", "treatment already has an invoice line")
	}

	teeth := t.TeethList()
	procedure, err := c.catalog.Resolve(t.Procedure, teeth)
	if err != nil {
		return domain.InvoiceLine{}, err
	}
	rule, err := c.catalog.Lookup(procedure)
	if err != nil {
		return domain.InvoiceLine{}, err
	}

	quantity := 1
	if rule.PerTooth {
		if len(teeth) == 0 {
			return domain.InvoiceLine{}, errs.Validation(domain.ErrAmbiguousQuantity, subject,
				fmt.Sprintf("%s is billed per tooth but no teeth were recorded", procedure))
		}
		quantity = len(teeth)
	}

	metadata := datatypes.JSONMap{
		domain.MetaSourceTreatmentID: subject,
		domain.MetaTeeth:             teeth,
		domain.MetaCategory:          string(rule.Category),
		domain.MetaRequestedCode:     string(t.Procedure),
	}
	if t.CompletedAt != nil {
		metadata[domain.MetaCompletedAt] = t.CompletedAt.UTC().Format(time.RFC3339)
	}

	return domain.InvoiceLine{
		Reference:   domain.LineReference(t.ID),
		ClinicID:    t.ClinicID,
		TreatmentID: t.ID,
		Procedure:   procedure,
		Description: describe(rule, procedure, teeth),
		UnitCost:    rule.BaseCost,
		TaxRate:     rule.TaxRate,
		Quantity:    quantity,
		Metadata:    metadata,
	}, nil
}

func describe(rule tariffdomain.BillingRule, procedure tariffdomain.Procedure, teeth []int) string {
	switch {
	case rule.PerTooth:
		return fmt.Sprintf("%s - teeth %s", rule.Description, joinTeeth(teeth))
	case procedure.IsRootCanal() && len(teeth) > 0:
		return fmt.Sprintf("%s - tooth %d", rule.Description, teeth[0])
	default:
		return rule.Description
	}
}

func joinTeeth(teeth []int) string {
	parts := make([]string, len(teeth))
	for i, id := range teeth {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
