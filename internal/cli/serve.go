package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/etiennedemoulin/nodes-lamb/internal/engine"
	"github.com/etiennedemoulin/nodes-lamb/internal/journal"
	"github.com/etiennedemoulin/nodes-lamb/internal/lamb"
	"github.com/etiennedemoulin/nodes-lamb/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr    string
	Path    string
	Schemas string
	Journal string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the shared state server",
		Long: `Run the state server of the installation.

The server compiles the schemas, creates the globals instance and accepts
WebSocket clients until interrupted. With --journal every commit is
appended to a SQLite journal readable with "lamb trace".

Examples:
  lamb serve --addr :8000
  lamb serve --addr :8000 --journal ./lamb.db --verbose
  lamb serve --schemas ./schemas`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8000", "listen address")
	cmd.Flags().StringVar(&opts.Path, "path", server.DefaultPath, "WebSocket endpoint path")
	cmd.Flags().StringVar(&opts.Schemas, "schemas", "", "CUE schema directory (default: built-in lamb schemas)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite commit journal")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	log := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	schemas, hooks, err := lamb.LoadRegistries(opts.Schemas)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load schemas", err)
	}

	engOpts := []engine.EngineOption{engine.WithLogger(log)}
	if opts.Journal != "" {
		jr, err := journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer jr.Close()
		log.Info("journal opened", "path", opts.Journal, "run", jr.Run())
		engOpts = append(engOpts, engine.WithRecorder(jr))
	}

	eng := engine.New(schemas, hooks, engOpts...)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(runCtx) }()

	if _, err := schemas.Get(lamb.GlobalsSchema); err == nil {
		if _, err := lamb.CreateGlobals(ctx, eng); err != nil {
			return WrapExitError(ExitCommandError, "failed to create globals", err)
		}
	}

	srv := server.New(eng, server.WithLogger(log), server.WithPath(opts.Path))
	serveErr := srv.ListenAndServe(ctx, opts.Addr)

	eng.Stop()
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("engine stopped with error", "error", err)
	}
	if serveErr != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to serve on %s", opts.Addr), serveErr)
	}
	return nil
}
