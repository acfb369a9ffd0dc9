package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/etiennedemoulin/nodes-lamb/internal/engine"
	"github.com/etiennedemoulin/nodes-lamb/internal/lamb"
	"github.com/etiennedemoulin/nodes-lamb/internal/server"
)

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer serves the lamb schemas over WebSocket and returns the URL.
func startServer(t *testing.T, opts ...engine.EngineOption) (*engine.Engine, string) {
	t.Helper()
	schemas, hooks, err := lamb.NewRegistries()
	require.NoError(t, err)

	e := engine.New(schemas, hooks, append([]engine.EngineOption{engine.WithLogger(discardLogger())}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	_, err = lamb.CreateGlobals(ctx, e)
	require.NoError(t, err)

	srv := server.New(e, server.WithLogger(discardLogger()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return e, "ws" + strings.TrimPrefix(ts.URL, "http") + srv.Path()
}
