package errs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = errors.New("sample_code")

func TestKindsWrapSentinel(t *testing.T) {
	err := State(errSample, "C1/2024-02-10", "CLOSED", "already closed")

	assert.ErrorIs(t, err, errSample)
	assert.True(t, IsState(err))
	assert.False(t, IsValidation(err))
	assert.False(t, IsConcurrency(err))
	assert.Equal(t, "state_error: sample_code [C1/2024-02-10] (state=CLOSED): already closed", err.Error())

	kind, code, subject, state, detail, ok := Describe(err)
	assert.True(t, ok)
	assert.Equal(t, KindState, kind)
	assert.Equal(t, "sample_code", code)
	assert.Equal(t, "C1/2024-02-10", subject)
	assert.Equal(t, "CLOSED", state)
	assert.Equal(t, "already closed", detail)
}

func TestDescribeUnclassified(t *testing.T) {
	_, _, _, _, _, ok := Describe(errors.New("boom"))
	assert.False(t, ok)
}

func TestRetryOnConflict(t *testing.T) {
	t.Run("retries once then succeeds", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), func(context.Context) error {
			calls++
			if calls == 1 {
				return Concurrency(errSample, "x", "lost race")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("surfaces second conflict", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), func(context.Context) error {
			calls++
			return Concurrency(errSample, "x", "lost race")
		})
		assert.True(t, IsConcurrency(err))
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry state errors", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), func(context.Context) error {
			calls++
			return State(errSample, "x", "CLOSED", "")
		})
		assert.True(t, IsState(err))
		assert.Equal(t, 1, calls)
	})
}
