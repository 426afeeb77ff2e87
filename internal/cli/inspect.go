package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dylon/f1r3fly/internal/history"
	"github.com/dylon/f1r3fly/internal/tuple"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Root     string
}

// InspectEntry describes one channel-tuple entry of a root.
type InspectEntry struct {
	Key           string `json:"key"`
	Data          int    `json:"data"`
	Continuations int    `json:"continuations"`
	Joins         int    `json:"joins"`
}

// InspectResult holds the inspect command output.
type InspectResult struct {
	Roots   []string       `json:"roots,omitempty"`
	Root    string         `json:"root,omitempty"`
	Entries []InspectEntry `json:"entries,omitempty"`
	Events  int            `json:"events,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect committed roots and their state",
		Long: `Inspect the history database.

Without --root, lists every committed root. With --root, materializes
that root's state and reports its entries and saved event log size.

Examples:
  rspace inspect --db ./rspace.db
  rspace inspect --db ./rspace.db --root <hex> --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Root, "root", "", "root to materialize (optional)")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	configureLogging(opts.Verbose)

	repo, err := history.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer repo.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if opts.Root == "" {
		roots, err := repo.ListRoots(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list roots", err)
		}
		result := InspectResult{Roots: make([]string, len(roots))}
		for i, r := range roots {
			result.Roots[i] = r.Hex()
		}
		if opts.Format == "json" {
			return formatter.Success(result)
		}
		for _, r := range result.Roots {
			fmt.Fprintln(cmd.OutOrStdout(), r)
		}
		return nil
	}

	root, err := tuple.ParseHash(opts.Root)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid root", err)
	}
	reader, err := repo.Reader(ctx, root)
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown root", err)
	}
	st, err := reader.Materialize(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to materialize root", err)
	}
	log, err := repo.EventLog(ctx, root)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load event log", err)
	}

	entries := make(map[string]InspectEntry)
	for key, row := range st.Data {
		e := entries[key]
		e.Key = key
		e.Data = len(row.Data)
		entries[key] = e
	}
	for key, row := range st.Conts {
		e := entries[key]
		e.Key = key
		e.Continuations = len(row.Conts)
		entries[key] = e
	}
	for key, row := range st.Joins {
		e := entries[key]
		e.Key = key
		e.Joins = len(row.Joins)
		entries[key] = e
	}

	result := InspectResult{Root: root.Hex(), Events: len(log)}
	for _, e := range entries {
		result.Entries = append(result.Entries, e)
	}
	sort.Slice(result.Entries, func(i, j int) bool {
		return result.Entries[i].Key < result.Entries[j].Key
	})

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "root: %s\nevents: %d\n", result.Root, result.Events)
	for _, e := range result.Entries {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s  data=%d conts=%d joins=%d\n", e.Key, e.Data, e.Continuations, e.Joins)
	}
	return nil
}
