// Package server exposes an engine over WebSocket connections.
//
// Each connection becomes one engine session served by two goroutines: the
// reader forwards requests to Engine.Handle, the writer drains the session
// outbox. A read error is a disconnect: the session is closed and the
// instances it owns are deleted.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/etiennedemoulin/nodes-lamb/internal/engine"
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/transport"
)

// DefaultPath is the WebSocket endpoint.
const DefaultPath = "/ws"

// shutdownTimeout bounds the graceful HTTP shutdown of ListenAndServe.
const shutdownTimeout = 5 * time.Second

// Server serves engine sessions.
type Server struct {
	engine *engine.Engine
	log    *slog.Logger
	path   string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithPath sets the WebSocket endpoint path. Default: DefaultPath.
func WithPath(path string) Option {
	return func(s *Server) {
		s.path = path
	}
}

// New creates a Server for e. The engine must be running.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine: e,
		log:    slog.Default(),
		path:   DefaultPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the WebSocket endpoint path.
func (s *Server) Path() string {
	return s.path
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, s)
	return mux
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if err := s.Serve(r.Context(), conn); err != nil {
		s.log.Warn("connection ended with error", "remote", r.RemoteAddr, "error", err)
	}
}

// ListenAndServe serves HTTP on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves HTTP on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("server listening", "addr", ln.Addr().String(), "path", s.path)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", "error", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("server stopped")
	return nil
}

// Local returns the client end of an in-process connection served like a
// WebSocket one. The connection lives until either end is closed or ctx is
// cancelled.
func (s *Server) Local(ctx context.Context) transport.Conn {
	clientEnd, serverEnd := transport.Pipe()
	go func() {
		if err := s.Serve(ctx, serverEnd); err != nil {
			s.log.Warn("local connection ended with error", "error", err)
		}
	}()
	return clientEnd
}

// Serve runs one connection as an engine session and blocks until the
// connection is closed. The connection is always closed on return.
func (s *Server) Serve(ctx context.Context, conn transport.Conn) error {
	defer conn.Close()

	sess, err := s.engine.Connect(ctx)
	if err != nil {
		return err
	}
	log := s.log.With("client_id", sess.ID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		err := s.writePump(ctx, conn, sess)
		// Unblock the reader when the peer can no longer be written to.
		_ = conn.Close()
		writeErr <- err
	}()

	readErr := s.readPump(ctx, conn, sess, log)

	if err := s.engine.Disconnect(context.WithoutCancel(ctx), sess); err != nil && !errors.Is(err, engine.ErrStopped) {
		log.Warn("disconnect failed", "error", err)
	}
	// The outbox is closed now, so the writer drains it and returns.
	werr := <-writeErr
	log.Info("connection closed")

	if readErr != nil {
		return readErr
	}
	return werr
}

// readPump forwards requests until the connection fails. A clean close or
// a cancelled ctx returns nil.
func (s *Server) readPump(ctx context.Context, conn transport.Conn, sess *engine.Session, log *slog.Logger) error {
	for {
		m, err := conn.Receive(ctx)
		if err != nil {
			switch {
			case ir.CodeOf(err) == ir.CodeProtocol:
				log.Warn("dropping malformed message", "error", err)
				continue
			case errors.Is(err, transport.ErrClosed), ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}
		if err := s.engine.Handle(sess, m); err != nil {
			return nil
		}
	}
}

// writePump sends outbox messages until the session is closed and drained.
func (s *Server) writePump(ctx context.Context, conn transport.Conn, sess *engine.Session) error {
	for {
		m, err := sess.Next(ctx)
		if err != nil {
			if errors.Is(err, engine.ErrSessionClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := conn.Send(ctx, m); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
