package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/skillcheck/internal/journal"
	"github.com/ashita-ai/skillcheck/internal/progress"
)

func newRunsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List journaled runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := envFrom(cmd)
			if err != nil {
				return err
			}
			j, closeJournal, err := env.requireJournal(cmd.Context())
			if err != nil {
				return err
			}
			defer closeJournal()

			runs, err := j.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return env.Renderer.Emit(runs, func() error {
				env.Renderer.renderRuns(runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	return cmd
}

func (r *Renderer) renderRuns(runs []journal.RunRecord) {
	if len(runs) == 0 {
		r.Noticef("no runs journaled yet")
		return
	}
	t := r.NewTable()
	t.AppendHeader(table.Row{"Run", "Kind", "Phase", "Total", "Models", "Submitted", "Duration"})
	for _, run := range runs {
		dur := ""
		if run.FinishedAt != nil {
			dur = run.FinishedAt.Sub(run.SubmittedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			run.RunID, run.Spec.Kind, r.phase(run.Phase), run.Total,
			strings.Join(run.Spec.Models, ","),
			run.SubmittedAt.Local().Format(time.DateTime), dur,
		})
	}
	t.Render()
}

func (r *Renderer) phase(p string) string {
	switch p {
	case journal.PhaseCompleted:
		return r.styles.Pass.Render(p)
	case journal.PhaseFailed, journal.PhaseConnectionLost:
		return r.styles.Fail.Render(p)
	default:
		return r.styles.Running.Render(p)
	}
}

// replayOutput is the machine-readable form of a replayed run.
type replayOutput struct {
	Run   journal.RunRecord `json:"run"`
	State progress.State    `json:"state"`
}

func newReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Rebuild a past run's grid from the journal",
		Long: `Fold a run's journaled events back into the progress grid a live viewer
would have ended with, including protocol anomalies seen on the stream.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFrom(cmd)
			if err != nil {
				return err
			}
			j, closeJournal, err := env.requireJournal(cmd.Context())
			if err != nil {
				return err
			}
			defer closeJournal()

			run, state, err := j.Replay(cmd.Context(), args[0])
			if errors.Is(err, journal.ErrNotFound) {
				return fmt.Errorf("run %s is not in the journal", args[0])
			}
			if err != nil {
				return err
			}

			return env.Renderer.Emit(replayOutput{Run: run, State: state}, func() error {
				r := env.Renderer
				_, _ = fmt.Fprintf(r.Writer(), "%s  %s  %s  (%d events)\n",
					r.styles.Header.Render(run.RunID), run.Spec.Kind, r.phase(run.Phase), run.EventCount)
				r.renderGrid(run.Spec, state.Grid, state.Total)
				if state.Error != "" {
					_, _ = fmt.Fprintf(r.Writer(), "error: %s\n", state.Error)
				}
				if state.Report != nil {
					_, _ = fmt.Fprintf(r.Writer(), "report: %s\n", state.Report.Markdown)
				}
				for _, a := range state.Anomalies {
					r.Noticef("anomaly: %s", a)
				}
				return nil
			})
		},
	}
}
