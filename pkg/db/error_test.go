package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(errors.New("constraint failed: UNIQUE constraint failed: invoice_lines.treatment_id (2067)")))
}

func TestIsDuplicateKeyErr_PostgresSQLState(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "ux_invoices_clinic_sequence"}
	assert.True(t, IsDuplicateKeyErr(unique))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("aggregate: %w", unique)))

	// A check violation on the same table is not a numbering race.
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23514", ConstraintName: "ck_invoices_total"}))
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	assert.Error(t, err)
}
