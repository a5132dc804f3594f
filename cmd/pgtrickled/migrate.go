package main

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	pgtrickledb "github.com/pgtrickle/pgtrickle/db"
)

// newMigrateCmd applies (or, with --down, rolls back one step of) the
// embedded goose migration set, the same goose-over-database/sql idiom
// pkg/fixgres already uses to bootstrap a test container.
func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply pgtrickle catalog schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := sql.Open("pgx", cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			goose.SetBaseFS(pgtrickledb.MigrationsFS)
			if err := goose.SetDialect("postgres"); err != nil {
				return err
			}

			ctx := context.Background()
			if down {
				return goose.DownContext(ctx, db, "migrations")
			}
			return goose.UpContext(ctx, db, "migrations")
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back one migration instead of applying pending ones")
	return cmd
}
