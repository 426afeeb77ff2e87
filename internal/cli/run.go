package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dylon/f1r3fly/internal/harness"
	"github.com/dylon/f1r3fly/internal/history"
	"github.com/dylon/f1r3fly/internal/rspace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
}

// RunResult holds the run command output.
type RunResult struct {
	Session  string               `json:"session"`
	Scenario string               `json:"scenario"`
	Steps    int                  `json:"steps"`
	Matches  int                  `json:"matches"`
	Root     string               `json:"root"`
	Pass     bool                 `json:"pass"`
	Trace    []harness.TraceEvent `json:"trace,omitempty"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario against a fresh space and checkpoint it",
		Long: `Run a scripted scenario against a fresh tuplespace, then checkpoint.

The scenario file lists produce/consume/install steps with optional
outcome expectations. After the last step the hot store is checkpointed
into the history database and the resulting root is printed; replay the
session later with "rspace replay".

Exit codes:
  0 - Scenario ran and every expectation held
  1 - An expectation failed
  2 - Command error (scenario not found, database error, etc.)

Examples:
  rspace run --db ./rspace.db ./scenarios/basic.yaml
  rspace run --db ./rspace.db ./scenarios/basic.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runScenario(opts *RunOptions, scenarioPath string, cmd *cobra.Command) error {
	ctx := context.Background()
	configureLogging(opts.Verbose)

	session := uuid.NewString()
	slog.Info("run starting", "session", session, "scenario", scenarioPath, "db", opts.Database)

	sc, err := harness.Load(scenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	repo, err := history.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer repo.Close()

	source := sc.Source
	if source == "" {
		source = "rspace"
	}
	space, err := rspace.NewSpace(ctx, repo, rspace.StructuralMatcher{}, rspace.WithSource(source))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create space", err)
	}

	res, err := harness.Run(ctx, space, sc)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	checkpoint, err := space.CreateCheckpoint(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "checkpoint failed", err)
	}

	matches := 0
	for _, ev := range res.Trace {
		if ev.Matched {
			matches++
		}
	}

	result := RunResult{
		Session:  session,
		Scenario: sc.Name,
		Steps:    len(res.Trace),
		Matches:  matches,
		Root:     checkpoint.Root.Hex(),
		Pass:     res.Pass,
		Errors:   res.Errors,
	}
	if opts.Verbose {
		result.Trace = res.Trace
	}

	slog.Info("run finished",
		"session", session,
		"scenario", sc.Name,
		"steps", result.Steps,
		"matches", result.Matches,
		"root", result.Root,
		"pass", result.Pass,
	)

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "scenario: %s\nsteps: %d\nmatches: %d\nroot: %s\n",
			result.Scenario, result.Steps, result.Matches, result.Root)
		for _, msg := range result.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "failed: %s\n", msg)
		}
	}

	if !res.Pass {
		return NewExitError(ExitFailure, "scenario expectations failed")
	}
	return nil
}

// configureLogging sets the process logger based on the verbose flag.
func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
