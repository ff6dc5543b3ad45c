package errs

import "context"

// RetryOnConflict runs fn and re-runs it once when it fails with a
// ConcurrencyError. fn must re-read any state it depends on.
func RetryOnConflict(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !IsConcurrency(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return err
	}
	return fn(ctx)
}
