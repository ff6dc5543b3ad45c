package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	auditdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	billingdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	invoicedomain "github.com/Nobledental/NOBLE-OS-sub002/internal/invoice/domain"
	ledgerdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	treatmentdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

// Models lists every table the service owns, in dependency-free order.
func Models() []any {
	return []any{
		&treatmentdomain.Treatment{},
		&billingdomain.InvoiceLine{},
		&invoicedomain.Invoice{},
		&ledgerdomain.Transaction{},
		&settlementdomain.Settlement{},
		&auditdomain.AuditLog{},
	}
}

// Run applies the schema. Postgres uses the versioned SQL migrations; the
// embedded sqlite backend is managed through AutoMigrate.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}
