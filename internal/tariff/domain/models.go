// Package domain contains the tariff reference data for billable procedures.
package domain

import (
	"strings"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/tooth"
)

// Procedure identifies a billable procedure.
// These codes are stored on treatments and invoice lines.
// Do NOT rename once used.
type Procedure string

const (
	ProcedureConsultation Procedure = "CONSULTATION"
	ProcedureXRayIOPA     Procedure = "XRAY_IOPA"
	ProcedureScaling      Procedure = "SCALING"
	ProcedureFilling      Procedure = "FILLING_COMPOSITE"
	ProcedureExtraction   Procedure = "EXTRACTION"
	ProcedureCrown        Procedure = "CROWN_PFM"
	ProcedureImplant      Procedure = "IMPLANT"
	ProcedureWhitening    Procedure = "WHITENING"
	ProcedureVeneer       Procedure = "VENEER"

	// ProcedureRootCanal is generic and never priced directly.
	ProcedureRootCanal         Procedure = "RCT"
	ProcedureRootCanalAnterior Procedure = "RCT_ANTERIOR"
	ProcedureRootCanalPremolar Procedure = "RCT_PREMOLAR"
	ProcedureRootCanalMolar    Procedure = "RCT_MOLAR"
)

// ParseProcedure normalizes a raw procedure code.
func ParseProcedure(raw string) Procedure {
	return Procedure(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsRootCanal reports whether p belongs to the root canal family.
func (p Procedure) IsRootCanal() bool {
	switch p {
	case ProcedureRootCanal, ProcedureRootCanalAnterior, ProcedureRootCanalPremolar, ProcedureRootCanalMolar:
		return true
	default:
		return false
	}
}

// ResolveRootCanal maps a tooth class to its priced root canal variant.
func ResolveRootCanal(class tooth.Class) (Procedure, bool) {
	switch class {
	case tooth.ClassAnterior:
		return ProcedureRootCanalAnterior, true
	case tooth.ClassPremolar:
		return ProcedureRootCanalPremolar, true
	case tooth.ClassMolar:
		return ProcedureRootCanalMolar, true
	default:
		return "", false
	}
}

// Category groups procedures for reporting and tax treatment.
type Category string

const (
	CategoryDiagnostic  Category = "diagnostic"
	CategoryPreventive  Category = "preventive"
	CategoryRestorative Category = "restorative"
	CategoryEndodontic  Category = "endodontic"
	CategorySurgical    Category = "surgical"
	CategoryProsthetic  Category = "prosthetic"
	CategoryCosmetic    Category = "cosmetic"
)

// BillingRule is the priced definition of a procedure.
// BaseCost is in minor currency units; TaxRate is a percentage.
type BillingRule struct {
	Procedure   Procedure `json:"procedure"`
	BaseCost    int64     `json:"base_cost"`
	PerTooth    bool      `json:"per_tooth"`
	TaxRate     int       `json:"tax_rate"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
}
