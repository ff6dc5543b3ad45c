package tooth

import (
	"testing"

	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[int]Class{
		11: ClassAnterior,
		13: ClassAnterior,
		21: ClassAnterior,
		33: ClassAnterior,
		14: ClassPremolar,
		25: ClassPremolar,
		44: ClassPremolar,
		16: ClassMolar,
		36: ClassMolar,
		46: ClassMolar,
		48: ClassMolar,
	}
	for id, want := range cases {
		got, err := Classify(id)
		require.NoError(t, err, "tooth %d", id)
		assert.Equal(t, want, got, "tooth %d", id)
	}
}

func TestClassifyRejectsOutOfRange(t *testing.T) {
	for _, id := range []int{0, 9, 10, 19, 20, 49, 51, 85, 99, 110, -11} {
		_, err := Classify(id)
		assert.ErrorIs(t, err, ErrInvalidTooth, "tooth %d", id)
		assert.True(t, errs.IsValidation(err), "tooth %d", id)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate([]int{11, 36, 46}))
	assert.NoError(t, Validate(nil))
	assert.ErrorIs(t, Validate([]int{11, 59}), ErrInvalidTooth)
}
