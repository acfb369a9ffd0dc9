package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/etiennedemoulin/nodes-lamb/internal/client"
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// SetOptions holds flags for the set command.
type SetOptions struct {
	*RootOptions
	URL      string
	Metadata map[string]string
}

// SetResult is the outcome of one write.
type SetResult struct {
	InstanceID int64     `json:"instance_id"`
	Schema     string    `json:"schema"`
	Version    uint64    `json:"version"`
	Committed  ir.Values `json:"committed"`
}

func (r SetResult) String() string {
	if len(r.Committed) == 0 {
		return fmt.Sprintf("%s #%d unchanged (version %d)", r.Schema, r.InstanceID, r.Version)
	}
	return fmt.Sprintf("%s #%d version %d: %s", r.Schema, r.InstanceID, r.Version, r.Committed)
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <schema|instance-id> <field=value>...",
		Short: "Write fields of a shared state",
		Long: `Attach to a shared state and write fields, like a controller would.

The target is a schema name (its first instance, e.g. globals) or an
instance id. Values are parsed as JSON when possible and as strings
otherwise. The committed diff is printed, hook derivations included.

Examples:
  lamb set globals master=0.5
  lamb set globals mute=true --meta source=console
  lamb set 3 filterSlider=0.25 --format json`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(cmd.Context(), opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", defaultURL, "state server WebSocket URL")
	cmd.Flags().StringToStringVar(&opts.Metadata, "meta", map[string]string{"source": "cli"}, "update metadata")
	return cmd
}

func runSet(ctx context.Context, opts *SetOptions, target string, assignments []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	values, err := parseAssignments(assignments)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}

	c, err := client.Dial(ctx, opts.URL, client.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConnect, "failed to connect to "+opts.URL, err)
	}
	defer c.Close()

	var st *client.SharedState
	if id, perr := strconv.ParseInt(target, 10, 64); perr == nil {
		st, err = c.AttachID(ctx, id)
	} else {
		st, err = c.Attach(ctx, target)
	}
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeRejected, "failed to attach "+target, err)
	}

	diff, err := st.Set(ctx, values, opts.Metadata)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeRejected, "write rejected", err)
	}
	f.VerboseLog("attached %s #%d", st.Schema().Name(), st.ID())

	return f.Success(SetResult{
		InstanceID: st.ID(),
		Schema:     st.Schema().Name(),
		Version:    st.Version(),
		Committed:  diff,
	})
}

// parseAssignments turns field=value arguments into values. A value that
// is not valid JSON is taken as a string.
func parseAssignments(args []string) (ir.Values, error) {
	out := make(ir.Values, len(args))
	for _, arg := range args {
		field, raw, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid assignment %q: want field=value", arg)
		}
		v, err := ir.UnmarshalValue([]byte(raw))
		if err != nil {
			v = ir.String(raw)
		}
		out[field] = v
	}
	return out, nil
}
