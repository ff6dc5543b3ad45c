package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/config"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/migration"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/observability"
	reportdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/report/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/scheduler"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/server"
	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const commandTimeout = 2 * time.Minute

func main() {
	rootCmd := &cobra.Command{
		Use:   "noble",
		Short: "Dental clinic billing and settlement ledger",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(closeDayCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				infrastructure(),
				migration.Module,
				server.Module,
				scheduler.Module,
			)
			app.Run()
			return app.Err()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), fx.Options(infrastructure(), migration.Module))
		},
	}
}

func closeDayCmd() *cobra.Command {
	var clinicID, date, actor string

	cmd := &cobra.Command{
		Use:   "close-day",
		Short: "Close the settlement for a clinic day",
		RunE: func(cmd *cobra.Command, args []string) error {
			var settlements settlementdomain.Service
			opts := fx.Options(
				infrastructure(),
				migration.Module,
				server.Services,
				fx.Populate(&settlements),
			)
			return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
				closed, err := settlements.CloseDay(ctx, settlementdomain.CloseRequest{
					ClinicID: clinicID,
					Date:     date,
					Actor:    actor,
				})
				if err != nil {
					return err
				}
				totals := closed.Totals()
				fmt.Fprintf(cmd.OutOrStdout(), "closed %s %s: cash=%d upi=%d card=%d total=%d (%d transactions)\n",
					closed.ClinicID, closed.Date, totals.Cash, totals.UPI, totals.Card, totals.Grand, totals.Count)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clinicID, "clinic", "", "clinic id")
	cmd.Flags().StringVar(&date, "date", time.Now().UTC().Format("2006-01-02"), "business date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&actor, "actor", "", "user closing the day")
	_ = cmd.MarkFlagRequired("clinic")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func reportCmd() *cobra.Command {
	var clinicID, date string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the settlement report of a closed day",
		RunE: func(cmd *cobra.Command, args []string) error {
			var reports reportdomain.Service
			opts := fx.Options(
				infrastructure(),
				server.Services,
				fx.Populate(&reports),
			)
			return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
				path, err := reports.Regenerate(ctx, clinicID, date)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clinicID, "clinic", "", "clinic id")
	cmd.Flags().StringVar(&date, "date", "", "business date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("clinic")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

// runOnce starts the app, runs each task and stops it again so lifecycle
// hooks (pool close, pending report renders) complete before exit.
func runOnce(parent context.Context, opts fx.Option, tasks ...func(context.Context) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	app := fx.New(opts)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	var taskErr error
	for _, task := range tasks {
		if taskErr = task(ctx); taskErr != nil {
			break
		}
	}
	if err := app.Stop(ctx); err != nil && taskErr == nil {
		return err
	}
	return taskErr
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
