package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"UsdnLedger/internal/observability"
	"UsdnLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func NewMigrateCmd() *cobra.Command {
	var dsn string

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema",
	}
	migrateCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("USDN_POSTGRES_DSN"), "Postgres connection string")

	run := func(apply func(*persistence.Migrator, context.Context) error, done string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				return fmt.Errorf("no DSN: set --dsn or USDN_POSTGRES_DSN")
			}
			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			logger := observability.NewLogger("migrate")
			if err := apply(persistence.NewMigrator(db, nil, logger), cmd.Context()); err != nil {
				return err
			}
			logger.Info().Msg(done)
			return nil
		}
	}

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  run((*persistence.Migrator).Up, "all migrations applied"),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE:  run((*persistence.Migrator).Down, "last migration rolled back"),
		},
	)
	return migrateCmd
}
