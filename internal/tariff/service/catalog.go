package service

import (
	"fmt"
	"sort"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/config"
	tariffdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/tariff/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/tooth"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"go.uber.org/fx"
)

var defaultRules = []tariffdomain.BillingRule{
	{Procedure: tariffdomain.ProcedureConsultation, BaseCost: 500, TaxRate: 0, Description: "Consultation", Category: tariffdomain.CategoryDiagnostic},
	{Procedure: tariffdomain.ProcedureXRayIOPA, BaseCost: 300, PerTooth: true, TaxRate: 0, Description: "IOPA X-ray", Category: tariffdomain.CategoryDiagnostic},
	{Procedure: tariffdomain.ProcedureScaling, BaseCost: 1500, TaxRate: 0, Description: "Scaling and polishing", Category: tariffdomain.CategoryPreventive},
	{Procedure: tariffdomain.ProcedureFilling, BaseCost: 1200, PerTooth: true, TaxRate: 0, Description: "Composite filling", Category: tariffdomain.CategoryRestorative},
	{Procedure: tariffdomain.ProcedureExtraction, BaseCost: 1000, PerTooth: true, TaxRate: 0, Description: "Extraction", Category: tariffdomain.CategorySurgical},
	{Procedure: tariffdomain.ProcedureRootCanal, BaseCost: 5500, TaxRate: 0, Description: "Root canal treatment", Category: tariffdomain.CategoryEndodontic},
	{Procedure: tariffdomain.ProcedureRootCanalAnterior, BaseCost: 5500, TaxRate: 0, Description: "Root canal treatment (anterior)", Category: tariffdomain.CategoryEndodontic},
	{Procedure: tariffdomain.ProcedureRootCanalPremolar, BaseCost: 6500, TaxRate: 0, Description: "Root canal treatment (premolar)", Category: tariffdomain.CategoryEndodontic},
	{Procedure: tariffdomain.ProcedureRootCanalMolar, BaseCost: 8500, TaxRate: 0, Description: "Root canal treatment (molar)", Category: tariffdomain.CategoryEndodontic},
	{Procedure: tariffdomain.ProcedureCrown, BaseCost: 7000, PerTooth: true, TaxRate: 12, Description: "PFM crown", Category: tariffdomain.CategoryProsthetic},
	{Procedure: tariffdomain.ProcedureImplant, BaseCost: 25000, PerTooth: true, TaxRate: 12, Description: "Dental implant", Category: tariffdomain.CategoryProsthetic},
	{Procedure: tariffdomain.ProcedureWhitening, BaseCost: 8000, TaxRate: 18, Description: "Teeth whitening", Category: tariffdomain.CategoryCosmetic},
	{Procedure: tariffdomain.ProcedureVeneer, BaseCost: 12000, PerTooth: true, TaxRate: 18, Description: "Porcelain veneer", Category: tariffdomain.CategoryCosmetic},
}

type CatalogParams struct {
	fx.In

	Tariff *config.TariffConfigHolder
}

type Catalog struct {
	rules  map[tariffdomain.Procedure]tariffdomain.BillingRule
	tariff *config.TariffConfigHolder
}

// NewCatalog builds the static catalog and checks every rule against the
// configured tax buckets.
func NewCatalog(p CatalogParams) (tariffdomain.Catalog, error) {
	return newCatalog(defaultRules, p.Tariff)
}

func newCatalog(rules []tariffdomain.BillingRule, tariff *config.TariffConfigHolder) (*Catalog, error) {
	if tariff == nil {
		return nil, fmt.Errorf("tariff config holder is required")
	}
	c := &Catalog{
		rules:  make(map[tariffdomain.Procedure]tariffdomain.BillingRule, len(rules)),
		tariff: tariff,
	}
	buckets := tariff.Get()
	for _, rule := range rules {
		if _, dup := c.rules[rule.Procedure]; dup {
			return nil, fmt.Errorf("duplicate billing rule %s", rule.Procedure)
		}
		if rule.BaseCost < 0 {
			return nil, fmt.Errorf("billing rule %s has negative base cost", rule.Procedure)
		}
		if !buckets.Allows(rule.TaxRate) {
			return nil, fmt.Errorf("billing rule %s uses unrecognised tax rate %d%%", rule.Procedure, rule.TaxRate)
		}
		c.rules[rule.Procedure] = rule
	}
	return c, nil
}

// Resolve maps every root canal code, generic or concrete, to the variant for
// the class of teeth[0]. A concrete code never overrides the tooth class.
func (c *Catalog) Resolve(procedure tariffdomain.Procedure, teeth []int) (tariffdomain.Procedure, error) {
	if !procedure.IsRootCanal() {
		if _, ok := c.rules[procedure]; !ok {
			return "", errs.Validation(tariffdomain.ErrUnknownProcedure, string(procedure), "unknown procedure")
		}
		return procedure, nil
	}

	if len(teeth) == 0 {
		return "", errs.Validation(tariffdomain.ErrRootCanalToothRequired, string(procedure), "root canal requires at least one tooth")
	}
	class, err := tooth.Classify(teeth[0])
	if err != nil {
		return "", err
	}
	resolved, ok := tariffdomain.ResolveRootCanal(class)
	if !ok {
		return "", errs.Validation(tariffdomain.ErrUnknownProcedure, string(procedure), fmt.Sprintf("no root canal variant for class %s", class))
	}
	return resolved, nil
}

func (c *Catalog) Lookup(procedure tariffdomain.Procedure) (tariffdomain.BillingRule, error) {
	if procedure == tariffdomain.ProcedureRootCanal {
		return tariffdomain.BillingRule{}, errs.Validation(tariffdomain.ErrGenericProcedure, string(procedure), "resolve the root canal variant before lookup")
	}
	rule, ok := c.rules[procedure]
	if !ok {
		return tariffdomain.BillingRule{}, errs.Validation(tariffdomain.ErrUnknownProcedure, string(procedure), "unknown procedure")
	}
	if !c.tariff.Get().Allows(rule.TaxRate) {
		return tariffdomain.BillingRule{}, errs.Validation(tariffdomain.ErrTaxRateNotRecognised, string(procedure), fmt.Sprintf("tax rate %d%% is not configured", rule.TaxRate))
	}
	return rule, nil
}

func (c *Catalog) Rules() []tariffdomain.BillingRule {
	out := make([]tariffdomain.BillingRule, 0, len(c.rules))
	for _, rule := range c.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Procedure < out[j].Procedure })
	return out
}
