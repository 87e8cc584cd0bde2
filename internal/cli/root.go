// Package cli provides skillcheckctl, the operator command line for
// skillcheck. It talks to the evaluation backend directly and reads the
// local run journal, so it works without a running skillcheck server.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/skillcheck/internal/config"
)

// Version information (set at build time).
var (
	Version   = "dev"
	GitCommit = "unknown"
)

type envKey struct{}

// offline marks commands that need neither config nor backend, so a broken
// environment does not stop them.
var offline = map[string]string{"offline": "true"}

// Env is what every subcommand runs against. It is built once per
// invocation in the root command's PersistentPreRunE.
type Env struct {
	Config   config.Config
	Renderer *Renderer
	Logger   *slog.Logger
}

// NewRootCmd creates the skillcheckctl root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "skillcheckctl",
		Short: "Operate skillcheck evaluation runs from the terminal",
		Long: `skillcheckctl submits evaluation runs, follows their progress live and
renders scored heatmaps, skill health and journaled run history.

Settings come from the same SKILLCHECK_* environment variables as the
server; flags override them.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			env, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, env))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.String("backend", "", "evaluation backend URL (default $SKILLCHECK_BACKEND_URL)")
	pf.String("backend-token", "", "bearer token for the backend (default $SKILLCHECK_BACKEND_TOKEN)")
	pf.String("journal-driver", "", "journal store: sqlite, postgres or none")
	pf.String("journal", "", "sqlite journal path (default $SKILLCHECK_JOURNAL_PATH)")
	pf.StringP("output", "o", string(FormatTable), "output format (table|json|yaml)")
	pf.BoolP("verbose", "v", false, "log debug output to stderr")

	_ = root.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newRunCommand(),
		newHeatmapCommand(),
		newSkillsCommand(),
		newRunsCommand(),
		newReplayCommand(),
		newHashKeyCommand(),
		newGenKeysCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command with ctx and prints any error to stderr.
func Execute(ctx context.Context) error {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadEnv reads config from the environment and applies flag overrides.
// Flags win over environment variables, which win over defaults.
func loadEnv(cmd *cobra.Command) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	override := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	override("backend", &cfg.BackendURL)
	override("backend-token", &cfg.BackendToken)
	override("journal-driver", &cfg.JournalDriver)
	override("journal", &cfg.JournalPath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out, _ := flags.GetString("output")
	format, err := ParseFormat(out)
	if err != nil {
		return nil, err
	}

	level := parseLevel(cfg.LogLevel)
	if v, _ := flags.GetBool("verbose"); v {
		level = slog.LevelDebug
	} else if level < slog.LevelWarn {
		// Info lines would interleave with live progress output.
		level = slog.LevelWarn
	}

	return &Env{
		Config:   cfg,
		Renderer: NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), format),
		Logger:   newLogger(cmd.ErrOrStderr(), level),
	}, nil
}

// envFrom returns the Env stored by the root command.
func envFrom(cmd *cobra.Command) (*Env, error) {
	if env, ok := cmd.Context().Value(envKey{}).(*Env); ok {
		return env, nil
	}
	return nil, fmt.Errorf("cli: command %q ran without the root command", cmd.Name())
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
