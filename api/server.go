// Package api exposes the assistant over HTTP.
//
// Endpoints:
//
//	GET    /health                      liveness probe
//	GET    /ready                       readiness probe (database ping)
//	POST   /api/sessions                create session
//	GET    /api/sessions                list sessions (limit/offset)
//	GET    /api/sessions/{id}           get one session
//	PATCH  /api/sessions/{id}           rename session
//	DELETE /api/sessions/{id}           delete session with messages
//	GET    /api/sessions/{id}/messages  session transcript
//	POST   /api/sessions/{id}/messages  synchronous exchange
//	POST   /api/chat/stream             streaming exchange (SSE)
//	POST   /api/kb/import               bulk ticket import
//	GET    /api/kb/search               lexical ticket search
//	POST   /api/kb/clear                wipe knowledge base
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: liveness and readiness probes
//   - session.go: session CRUD and transcripts
//   - chat.go: chat exchanges, synchronous and SSE
//   - kb.go: knowledge base import, search, clear
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caselight/caselight/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response. It
	// bounds a whole SSE stream, so it stays generous.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the assistant's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health  *HealthHandler
	session *SessionHandler
	chat    *ChatHandler
	kb      *KBHandler
}

// NewServer creates an HTTP server with all routes registered.
// index may be nil when no vector store is configured.
func NewServer(pool *pgxpool.Pool, sessions SessionStore, chat ChatService, tickets TicketStore, index VectorIndex, logger log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  logger,
		health:  NewHealthHandler(pool, logger),
		session: NewSessionHandler(sessions, logger),
		chat:    NewChatHandler(chat, logger),
		kb:      NewKBHandler(tickets, index, logger),
	}

	s.health.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.kb.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
