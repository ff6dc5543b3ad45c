// Package tooth classifies teeth identified in FDI two-digit notation.
package tooth

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
)

// Class is the anatomical class of a tooth.
type Class string

const (
	ClassAnterior Class = "anterior"
	ClassPremolar Class = "premolar"
	ClassMolar    Class = "molar"
)

var ErrInvalidTooth = errors.New("invalid_tooth_id")

// Classify maps an FDI tooth id (quadrant 1-4, position 1-8) to its class.
// Position 1-3 is anterior, 4-5 premolar, 6-8 molar in every quadrant.
func Classify(id int) (Class, error) {
	quadrant, position := id/10, id%10
	if id < 11 || id > 48 || quadrant < 1 || quadrant > 4 || position < 1 || position > 8 {
		return "", errs.Validation(ErrInvalidTooth, strconv.Itoa(id), fmt.Sprintf("tooth %d is not a permanent FDI tooth id", id))
	}

	switch {
	case position <= 3:
		return ClassAnterior, nil
	case position <= 5:
		return ClassPremolar, nil
	default:
		return ClassMolar, nil
	}
}

// Validate checks every id in teeth.
func Validate(teeth []int) error {
	for _, id := range teeth {
		if _, err := Classify(id); err != nil {
			return err
		}
	}
	return nil
}
