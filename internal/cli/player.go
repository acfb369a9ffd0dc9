package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/etiennedemoulin/nodes-lamb/internal/client"
	"github.com/etiennedemoulin/nodes-lamb/internal/lamb"
)

// PlayerOptions holds flags for the player command.
type PlayerOptions struct {
	*RootOptions
	URL      string
	Channels int
}

// NewPlayerCommand creates the player command.
func NewPlayerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "player",
		Short: "Follow the players as a multichannel output node",
		Long: `Connect to the server as a multichannel playback node.

Every phone player is routed to the lowest free output channel; the channel
table is printed whenever a player joins, leaves or changes. Players that
arrive when every channel is taken stay unassigned.

Examples:
  lamb player --url ws://localhost:8000/ws --channels 8
  lamb player --channels 4 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPlayer(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", defaultURL, "state server WebSocket URL")
	cmd.Flags().IntVar(&opts.Channels, "channels", 8, "number of output channels")
	return cmd
}

const defaultURL = "ws://localhost:8000/ws"

func runPlayer(ctx context.Context, opts *PlayerOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	log := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if opts.Channels <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--channels must be positive, got %d", opts.Channels))
	}

	c, err := client.Dial(ctx, opts.URL, client.WithLogger(log))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConnect, "failed to connect to "+opts.URL, err)
	}
	defer c.Close()

	var mu sync.Mutex
	w := cmd.OutOrStdout()
	mixer, err := lamb.NewMixer(ctx, c, opts.Channels, func(rows []lamb.Row) {
		mu.Lock()
		defer mu.Unlock()
		if err := printRows(w, f.JSON(), rows); err != nil {
			log.Warn("print channel table", "error", err)
		}
	}, log)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConnect, "failed to follow players", err)
	}
	defer mixer.Close()
	log.Info("player ready", "client_id", c.ID(), "channels", opts.Channels)

	select {
	case <-ctx.Done():
		return nil
	case <-c.Done():
		return WrapExitError(ExitCommandError, "connection lost", c.Err())
	}
}

// printRows writes one channel table. JSON output is one object per line.
func printRows(w io.Writer, asJSON bool, rows []lamb.Row) error {
	if asJSON {
		return json.NewEncoder(w).Encode(map[string]any{"channels": rows})
	}
	fmt.Fprintln(w, "channel  player  saw(Hz)  filter(Hz)  harm  gain")
	for _, r := range rows {
		if r.InstanceID == 0 {
			fmt.Fprintf(w, "%7d  %6s\n", r.Channel, "-")
			continue
		}
		fmt.Fprintf(w, "%7d  %6d  %7.1f  %10.1f  %4d  %.2f\n",
			r.Channel, r.PlayerID, r.SawFreq, r.FilterFreq, r.NumHarm, r.Gain)
	}
	_, err := fmt.Fprintln(w)
	return err
}
