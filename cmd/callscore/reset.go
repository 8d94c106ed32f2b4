package main

import (
	"fmt"

	"github.com/Veraticus/callscore/internal/cli"
	"github.com/Veraticus/callscore/internal/gate"
	"github.com/spf13/cobra"
)

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset SESSION_ID...",
		Short: "Allow completed sessions to be processed again",
		Long: `Re-arm completed or processed sessions. The next submission that arrives for
a re-armed session, including the files picked up when 'watch' starts,
triggers a fresh classification.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runReset,
	}
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// The trigger never runs here: Reset only re-arms.
	g := gate.NewFromConfig(cfg, nil, gate.WithStore(store))
	if _, err := g.Restore(ctx); err != nil {
		return err
	}

	for _, id := range args {
		if err := g.Reset(ctx, id); err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("session "+id+" re-armed")); err != nil {
			return err
		}
	}
	return nil
}
