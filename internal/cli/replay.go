package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dylon/f1r3fly/internal/harness"
	"github.com/dylon/f1r3fly/internal/history"
	"github.com/dylon/f1r3fly/internal/rspace"
	"github.com/dylon/f1r3fly/internal/tuple"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Root     string
}

// ReplayResult holds the replay command output.
type ReplayResult struct {
	Scenario      string `json:"scenario"`
	RiggedRoot    string `json:"rigged_root"`
	ReplayedRoot  string `json:"replayed_root"`
	Events        int    `json:"events"`
	Deterministic bool   `json:"deterministic"`
	Divergence    string `json:"divergence,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a checkpointed session and verify determinism",
		Long: `Replay a scenario against the event log saved with a checkpoint.

The saved log is rigged into a replay space, the scenario steps are
re-executed, and every communication must reproduce a recorded COMM
event. The command then asserts that no recorded COMM is left over and
that re-checkpointing yields the same root.

Exit codes:
  0 - Replay is deterministic
  1 - Divergence detected
  2 - Command error (database not found, unknown root, etc.)

Examples:
  rspace replay --db ./rspace.db --root <hex> ./scenarios/basic.yaml
  rspace replay --db ./rspace.db --root <hex> ./scenarios/basic.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Root, "root", "", "checkpointed root whose event log to replay (required)")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

func runReplay(opts *ReplayOptions, scenarioPath string, cmd *cobra.Command) error {
	ctx := context.Background()
	configureLogging(opts.Verbose)

	root, err := tuple.ParseHash(opts.Root)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid root", err)
	}

	sc, err := harness.Load(scenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	repo, err := history.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer repo.Close()

	ok, err := repo.HasRoot(ctx, root)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to check root", err)
	}
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown root %s", root.Hex()))
	}

	log, err := repo.EventLog(ctx, root)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load event log", err)
	}

	source := sc.Source
	if source == "" {
		source = "rspace"
	}
	replay, err := rspace.NewReplaySpace(ctx, repo, rspace.StructuralMatcher{}, rspace.WithSource(source+"-replay"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create replay space", err)
	}
	if err := replay.Rig(log); err != nil {
		return WrapExitError(ExitCommandError, "failed to rig event log", err)
	}

	slog.Info("replay starting", "scenario", sc.Name, "root", root.Hex(), "events", len(log))

	result := ReplayResult{
		Scenario:   sc.Name,
		RiggedRoot: root.Hex(),
		Events:     len(log),
	}

	_, runErr := harness.Run(ctx, replay.Space, sc)
	if runErr == nil {
		runErr = replay.CheckReplayData()
	}
	if runErr == nil {
		checkpoint, err := replay.CreateCheckpoint(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "replay checkpoint failed", err)
		}
		result.ReplayedRoot = checkpoint.Root.Hex()
		result.Deterministic = checkpoint.Root == root
		if !result.Deterministic {
			result.Divergence = "replayed root differs from rigged root"
		}
	} else if rspace.IsReplayDivergence(runErr) {
		result.Deterministic = false
		result.Divergence = runErr.Error()
	} else {
		return WrapExitError(ExitCommandError, "replay execution failed", runErr)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
	} else {
		if result.Deterministic {
			fmt.Fprintf(cmd.OutOrStdout(), "scenario: %s\nevents: %d\nroot: %s\ndeterministic: true\n",
				result.Scenario, result.Events, result.RiggedRoot)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "scenario: %s\nevents: %d\ndeterministic: false\ndivergence: %s\n",
				result.Scenario, result.Events, result.Divergence)
		}
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "replay diverged")
	}
	return nil
}
