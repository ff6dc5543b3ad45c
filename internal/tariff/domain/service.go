package domain

import "errors"

// Catalog resolves procedures to billing rules.
type Catalog interface {
	// Resolve returns the procedure that must be priced for the given teeth.
	// Every root canal code is specialised by the class of teeth[0].
	Resolve(procedure Procedure, teeth []int) (Procedure, error)
	// Lookup returns the rule for a concrete procedure.
	Lookup(procedure Procedure) (BillingRule, error)
	// Rules lists every rule ordered by procedure code.
	Rules() []BillingRule
}

var (
	ErrUnknownProcedure       = errors.New("unknown_procedure")
	ErrRootCanalToothRequired = errors.New("root_canal_tooth_required")
	ErrGenericProcedure       = errors.New("generic_procedure_not_priced")
	ErrTaxRateNotRecognised   = errors.New("tax_rate_not_recognised")
)
