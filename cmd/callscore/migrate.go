package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/callscore/internal/cli"
	"github.com/Veraticus/callscore/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the result store schema to the latest version.

This command ensures the database has the predictions, history, feature row
and session state tables.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "show the current schema version without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	statusOnly, _ := cmd.Flags().GetBool("status")

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if statusOnly {
		msg := fmt.Sprintf("%s: schema version %d of %d", cfg.Database.Path, current, storage.ExpectedSchemaVersion)
		if current < storage.ExpectedSchemaVersion {
			_, err = fmt.Fprintln(out, cli.FormatWarning(msg+"; run 'callscore migrate'"))
			return err
		}
		_, err = fmt.Fprintln(out, cli.FormatSuccess(msg))
		return err
	}

	slog.Info("running database migrations", "database", cfg.Database.Path, "from", current, "to", storage.ExpectedSchemaVersion)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	_, err = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("database at schema version %d", storage.ExpectedSchemaVersion)))
	return err
}
