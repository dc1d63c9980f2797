// Package api exposes the LeadFlow HTTP surface: the message ingestion
// webhook and read-only endpoints for conversations, leads and playbooks.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadflow/leadflow/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds how long Run waits for in-flight requests on shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
	// ExtraRoutes lets callers mount transport-specific handlers, such as a
	// provider webhook, on the same mux.
	ExtraRoutes map[string]http.Handler
}

// Option defines a functional option for configuring the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithRoute mounts an additional handler at the given pattern.
func WithRoute(pattern string, h http.Handler) Option {
	return func(o *Opts) {
		if o.ExtraRoutes == nil {
			o.ExtraRoutes = make(map[string]http.Handler)
		}
		o.ExtraRoutes[pattern] = h
	}
}

// Server wires the HTTP handlers to the repository and the job queue.
type Server struct {
	st   store.Repository
	jobs store.JobRepo
	opts Opts
}

// NewServer creates an API server over the given repository and job queue.
func NewServer(st store.Repository, jobs store.JobRepo, options ...Option) *Server {
	var opts Opts
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	return &Server{st: st, jobs: jobs, opts: opts}
}

// Handler builds the request mux for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/message", s.webhookMessageHandler)
	mux.HandleFunc("/conversations", s.listConversationsHandler)
	mux.HandleFunc("/conversations/", s.conversationsHandler)
	mux.HandleFunc("/leads", s.listLeadsHandler)
	mux.HandleFunc("/leads/", s.getLeadHandler)
	mux.HandleFunc("/playbooks", s.listPlaybooksHandler)
	mux.HandleFunc("/health", s.healthHandler)
	for pattern, h := range s.opts.ExtraRoutes {
		mux.Handle(pattern, h)
	}
	return mux
}

// Run starts the HTTP server and blocks until ctx is canceled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
