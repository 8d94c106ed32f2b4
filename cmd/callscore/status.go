package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/callscore/internal/cli"
	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/Veraticus/callscore/internal/pipeline"
	"github.com/Veraticus/callscore/internal/service"
	"github.com/Veraticus/callscore/internal/storage"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [SESSION_ID...]",
		Short: "Show recorded results",
		Long: `Show the latest recorded result for the given sessions, or list recent
results when no session is given. --sessions lists the completion state of
every session the watcher has seen.`,
		RunE: runStatus,
	}

	cmd.Flags().String("status", "", "only list results with this status (completed, failed)")
	cmd.Flags().Duration("since", 0, "only list results processed within this duration")
	cmd.Flags().Int("limit", 50, "maximum results to list")
	cmd.Flags().Bool("history", false, "show every recorded result of the given sessions")
	cmd.Flags().Bool("sessions", false, "list session completion states")
	cmd.Flags().Bool("json", false, "print as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	asJSON, _ := cmd.Flags().GetBool("json")
	if sessions, _ := cmd.Flags().GetBool("sessions"); sessions {
		return printSessionStates(cmd, store, asJSON)
	}

	if len(args) == 0 {
		filter := service.PredictionFilter{}
		status, _ := cmd.Flags().GetString("status")
		filter.Status = model.ResultStatus(status)
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
			t := time.Now().Add(-since)
			filter.Since = &t
		}
		stored, err := store.ListPredictions(ctx, filter)
		if err != nil {
			return err
		}
		results := make([]pipeline.Result, 0, len(stored))
		for i := range stored {
			results = append(results, pipeline.ResultFrom(&stored[i]))
		}
		return printResults(cmd, results, asJSON)
	}

	history, _ := cmd.Flags().GetBool("history")
	var results []pipeline.Result
	notFound := 0
	for _, id := range args {
		if history {
			stored, err := store.GetPredictionHistory(ctx, id)
			if err != nil {
				return err
			}
			if len(stored) == 0 {
				notFound++
				results = append(results, pipeline.Result{SessionID: id, Status: model.StatusNotFound})
			}
			for i := range stored {
				results = append(results, pipeline.ResultFrom(&stored[i]))
			}
			continue
		}

		stored, err := store.GetPrediction(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			notFound++
			results = append(results, pipeline.Result{SessionID: id, Status: model.StatusNotFound})
			continue
		}
		if err != nil {
			return err
		}
		results = append(results, pipeline.ResultFrom(stored))
	}

	if err := printResults(cmd, results, asJSON); err != nil {
		return err
	}
	if notFound > 0 {
		return fmt.Errorf("%d of %d sessions not found", notFound, len(args))
	}
	return nil
}

func printSessionStates(cmd *cobra.Command, store *storage.SQLiteStorage, asJSON bool) error {
	states, err := store.ListSessionStates(cmd.Context())
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), states)
	}

	rows := make([][]string, 0, len(states))
	for _, st := range states {
		received := make([]string, 0, len(st.Received))
		for _, t := range st.Received.Sorted() {
			received = append(received, string(t))
		}
		state := string(st.State)
		if st.Armed {
			state += " (armed)"
		}
		rows = append(rows, []string{
			st.SessionID,
			cli.StatusStyle(string(st.State)).Render(state),
			strings.Join(received, ", "),
			fmt.Sprint(st.Runs),
			st.LastError,
			st.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable(
		[]string{"Session", "State", "Received", "Runs", "Last error", "Updated"},
		rows,
		[]cli.Alignment{cli.AlignLeft, cli.AlignLeft, cli.AlignLeft, cli.AlignRight, cli.AlignLeft, cli.AlignLeft},
	))
	return err
}
