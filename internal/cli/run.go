package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/skillcheck/internal/coordinator"
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/stream"
)

type runOptions struct {
	kind        string
	models      []string
	scenarios   []string
	domains     []string
	concurrency int
	detach      bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit an evaluation run and follow it live",
		Long: `Submit a run to the evaluation backend, follow its event stream and print
the final (scenario, model) grid.

Progress lines go to stderr. Interrupting the command detaches from the
run; the backend keeps executing it. The run is recorded in the journal
unless the journal is disabled.`,
		Example: `  # Run two scenarios against the default models
  skillcheckctl run --scenarios web-search-basic,web-fetch-redirect

  # Scored heatmap run for one domain, as JSON
  skillcheckctl run --kind scored --domains web -o json

  # Submit and return immediately
  skillcheckctl run --detach`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.kind, "kind", string(model.RunKindScenario), "run kind (scenario|scored)")
	f.StringSliceVar(&opts.models, "models", nil, "models to run (default $SKILLCHECK_DEFAULT_MODELS)")
	f.StringSliceVar(&opts.scenarios, "scenarios", nil, "scenario ids for a scenario run (default all)")
	f.StringSliceVar(&opts.domains, "domains", nil, "domains for a scored run (default all)")
	f.IntVar(&opts.concurrency, "concurrency", 0, "task units the backend runs at once (default $SKILLCHECK_DEFAULT_CONCURRENCY)")
	f.BoolVar(&opts.detach, "detach", false, "print the run id and exit without following the stream")
	_ = cmd.RegisterFlagCompletionFunc("kind", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(model.RunKindScenario), string(model.RunKindScored)}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions) error {
	env, err := envFrom(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	r := env.Renderer

	spec := model.RunSpec{
		Kind:        model.RunKind(opts.kind),
		ScenarioIDs: opts.scenarios,
		Domains:     opts.domains,
		Models:      opts.models,
		Concurrency: opts.concurrency,
	}
	if len(spec.Models) == 0 {
		spec.Models = env.Config.DefaultModels
	}
	if spec.Concurrency == 0 {
		spec.Concurrency = env.Config.DefaultConcurrency
	}
	spec = spec.Normalized()

	client, err := env.backendClient()
	if err != nil {
		return err
	}
	j, closeJournal, err := env.openJournal(ctx)
	if err != nil {
		return err
	}
	defer closeJournal()

	cfg := coordinator.Config{
		Backend: client,
		Stream: stream.Config{
			BaseURL: env.Config.BackendURL,
			Token:   env.Config.BackendToken,
			Logger:  env.Logger,
		},
		Logger: env.Logger,
	}
	if j != nil {
		cfg.Recorder = j
	}
	coord, err := coordinator.New(cfg)
	if err != nil {
		return err
	}
	defer coord.Close()

	snaps, unsubscribe := coord.Subscribe()
	defer unsubscribe()

	handle, err := coord.Submit(ctx, spec)
	if err != nil {
		return fmt.Errorf("submit run: %w", err)
	}
	r.Noticef("run %s started: %d tasks", handle.RunID, handle.Total)

	if opts.detach {
		coord.Disconnect()
		return r.Emit(handle, func() error {
			_, err := fmt.Fprintln(r.Writer(), handle.RunID)
			return err
		})
	}

	final, err := watchRun(ctx, r, snaps, handle.RunID)
	if err != nil {
		coord.Disconnect()
		r.Noticef("detached from run %s; it keeps running on the backend", handle.RunID)
		return err
	}

	if err := r.Emit(final, func() error {
		r.renderGrid(spec, final.Grid, final.Total)
		if final.Report != nil {
			_, _ = fmt.Fprintf(r.Writer(), "report: %s\n", final.Report.Markdown)
		}
		return nil
	}); err != nil {
		return err
	}

	if final.Phase == coordinator.PhaseFailed {
		if final.ConnectionLost {
			recoverRunStatus(ctx, env, handle.RunID)
		}
		return fmt.Errorf("run %s failed: %s", handle.RunID, final.Error)
	}
	return nil
}

// watchRun prints a progress line whenever the counts move and returns the
// terminal snapshot of runID. It returns ctx's error if ctx ends first.
func watchRun(ctx context.Context, r *Renderer, snaps <-chan coordinator.Snapshot, runID string) (coordinator.Snapshot, error) {
	lastCompleted, lastRunning := -1, -1
	for {
		select {
		case <-ctx.Done():
			return coordinator.Snapshot{}, ctx.Err()
		case snap, ok := <-snaps:
			if !ok {
				return coordinator.Snapshot{}, fmt.Errorf("run %s: coordinator closed", runID)
			}
			if snap.RunID != runID {
				continue
			}
			switch snap.Phase {
			case coordinator.PhaseCompleted, coordinator.PhaseFailed:
				return snap, nil
			case coordinator.PhaseIdle:
				return snap, fmt.Errorf("run %s: detached", runID)
			}
			if snap.Completed != lastCompleted || snap.Running != lastRunning {
				lastCompleted, lastRunning = snap.Completed, snap.Running
				r.Noticef("[%d/%d] %d running", snap.Completed, snap.Total, snap.Running)
			}
		}
	}
}

// recoverRunStatus asks the backend for its own view of a run whose stream
// dropped, since the run may have finished anyway.
func recoverRunStatus(ctx context.Context, env *Env, runID string) {
	client, err := env.backendClient()
	if err != nil {
		return
	}
	res, err := client.FetchRunResult(ctx, runID)
	if err != nil {
		env.Logger.Warn("fetch run result after lost stream", "run_id", runID, "error", err)
		return
	}
	env.Renderer.Noticef("stream lost; backend reports run %s as %s with %d results",
		runID, res.Status, res.ResultCount)
}
