package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hanko-field/orders/internal/migrations"
	"github.com/hanko-field/orders/internal/repositories/sqlite"
)

const defaultSQLitePath = "data/orders.db"

func newMigrateCommand(a *app) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Manage the SQLite schema",
		Long:  "migrate applies, rolls back or lists the embedded SQLite migrations. Only the sqlite storage backend keeps a schema.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) > 0 {
				action = strings.ToLower(args[0])
			}
			var run func(*sql.DB) error
			switch action {
			case "up":
				run = migrations.Up
			case "down":
				run = migrations.Down
			case "status":
				run = migrations.Status
			default:
				return fmt.Errorf("unknown migrate action %q", action)
			}

			path := firstNonEmpty(dbPath, a.env["ORDERS_STORAGE_SQLITE_PATH"], defaultSQLitePath)
			db, err := sqlite.Open(path)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := run(db); err != nil {
				return fmt.Errorf("migrate %s: %w", action, err)
			}

			version, err := migrations.Version(db)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database: %s\nschema version: %d\n", path, version)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (defaults to ORDERS_STORAGE_SQLITE_PATH)")
	return cmd
}
