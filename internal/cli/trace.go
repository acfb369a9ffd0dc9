package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/etiennedemoulin/nodes-lamb/internal/journal"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal  string
	Run      string
	All      bool
	Instance int64
	Schema   string
	Replay   bool
}

// TraceResult holds the trace output.
type TraceResult struct {
	Runs    []string            `json:"runs"`
	Events  []journal.Entry     `json:"events"`
	Live    []protocol.Instance `json:"live,omitempty"`
	Replay  bool                `json:"-"`
	Filters string              `json:"-"`
}

func (r TraceResult) String() string {
	var b strings.Builder
	run := ""
	for _, e := range r.Events {
		if e.Run != run {
			run = e.Run
			fmt.Fprintf(&b, "run %s\n", run)
		}
		fmt.Fprintf(&b, "  %4d  %-7s  %s #%d v%d", e.Seq, e.Kind, e.Schema, e.InstanceID, e.Version)
		if e.ClientID != 0 {
			fmt.Fprintf(&b, "  client %d", e.ClientID)
		} else {
			b.WriteString("  server")
		}
		if len(e.Values) > 0 {
			fmt.Fprintf(&b, "  %s", e.Values)
		}
		if len(e.Metadata) > 0 {
			fmt.Fprintf(&b, "  %v", e.Metadata)
		}
		b.WriteByte('\n')
	}
	if len(r.Events) == 0 {
		fmt.Fprintf(&b, "no events%s\n", r.Filters)
	}
	if r.Replay {
		fmt.Fprintf(&b, "live instances: %d\n", len(r.Live))
		for _, inst := range r.Live {
			fmt.Fprintf(&b, "  %s #%d v%d %s\n", inst.Schema, inst.ID, inst.Version, inst.Values)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the commit journal",
		Long: `Print the commits recorded by "lamb serve --journal".

Each server start is a run; the latest run is shown unless --run or --all
is given. --replay folds the selected run back into the instances that
were live at its end.

Examples:
  lamb trace --journal ./lamb.db
  lamb trace --journal ./lamb.db --instance 3
  lamb trace --journal ./lamb.db --all --schema player
  lamb trace --journal ./lamb.db --replay --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite commit journal (required)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run id (default: latest)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "show every run")
	cmd.Flags().Int64Var(&opts.Instance, "instance", 0, "only events of this instance id")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "only events of this schema")
	cmd.Flags().BoolVar(&opts.Replay, "replay", false, "rebuild the live instances of the run")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	if opts.All && opts.Run != "" {
		return NewExitError(ExitCommandError, "--all and --run are mutually exclusive")
	}
	if opts.All && opts.Replay {
		return NewExitError(ExitCommandError, "--replay needs a single run")
	}
	if _, err := os.Stat(opts.Journal); err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, "journal not found: "+opts.Journal, nil)
	}

	// Opening starts a run of its own, but nothing is written to it.
	jr, err := journal.Open(opts.Journal)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer jr.Close()

	runs, err := jr.Runs(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to list runs", err)
	}

	q := journal.Query{InstanceID: opts.Instance, Schema: opts.Schema}
	switch {
	case opts.All:
	case opts.Run != "":
		q.Run = opts.Run
	case len(runs) > 0:
		q.Run = runs[len(runs)-1]
	}

	result := TraceResult{Runs: runs, Replay: opts.Replay, Filters: describeFilters(q)}
	if len(runs) > 0 {
		if result.Events, err = jr.Read(ctx, q); err != nil {
			return f.Fail(ExitCommandError, ErrCodeJournal, "failed to read events", err)
		}
	} else {
		result.Events = []journal.Entry{}
	}

	if opts.Replay {
		if result.Live, err = journal.Replay(result.Events); err != nil {
			return f.Fail(ExitFailure, ErrCodeJournal, "journal does not replay", err)
		}
	}
	return f.Success(result)
}

func describeFilters(q journal.Query) string {
	var parts []string
	if q.Run != "" {
		parts = append(parts, "run "+q.Run)
	}
	if q.InstanceID != 0 {
		parts = append(parts, fmt.Sprintf("instance %d", q.InstanceID))
	}
	if q.Schema != "" {
		parts = append(parts, "schema "+q.Schema)
	}
	if len(parts) == 0 {
		return ""
	}
	return " for " + strings.Join(parts, ", ")
}
