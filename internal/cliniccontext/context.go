package cliniccontext

import (
	"context"
	"strings"
)

// ClinicContextKey is the request context key for the active clinic ID.
type ClinicContextKey struct{}

// WithClinicID stores the clinic ID in the context.
func WithClinicID(ctx context.Context, clinicID string) context.Context {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return ctx
	}
	return context.WithValue(ctx, ClinicContextKey{}, clinicID)
}

// ClinicIDFromContext returns the clinic ID from context, if set.
func ClinicIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(ClinicContextKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
