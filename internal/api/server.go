// Package api exposes the JSON HTTP surface: authentication, projects,
// document upload and retrieval, and conversational question answering.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/auth"
	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/project"
	"github.com/docchat/docchat/internal/user"
)

// ServerConfig wires the server's dependencies.
type ServerConfig struct {
	Logger        log.Logger
	Users         *user.Service             // Required
	Projects      *project.Service          // Required
	Conversations *conversation.Service     // Required
	Files         FileStore                 // Required
	Ingestor      Ingestor                  // Required
	Answerer      Answerer                  // Required: default pipeline
	MakeAnswerer  AnswererFactory           // Optional: per-request provider/model
	Tokens        *auth.TokenManager        // Required
	Pool          *pgxpool.Pool             // Optional: nil disables pool stats in /ready
	ModelOptions  ai.Options                // Reported by /api/providers
	TrustProxy    bool                      // Trust X-Real-IP/X-Forwarded-For
	RateLimit     float64                   // Tokens per second per IP (0 = 1/s)
	RateBurst     int                       // Burst per IP (0 = 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Users == nil:
		return nil, errors.New("user service is required")
	case cfg.Projects == nil:
		return nil, errors.New("project service is required")
	case cfg.Conversations == nil:
		return nil, errors.New("conversation service is required")
	case cfg.Files == nil:
		return nil, errors.New("file store is required")
	case cfg.Ingestor == nil:
		return nil, errors.New("ingestor is required")
	case cfg.Answerer == nil:
		return nil, errors.New("answerer is required")
	case cfg.Tokens == nil:
		return nil, errors.New("token manager is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ah := &authHandler{users: cfg.Users, tokens: cfg.Tokens, logger: logger}
	ph := &projectHandler{projects: cfg.Projects, logger: logger}
	dh := &documentHandler{projects: cfg.Projects, ingestor: cfg.Ingestor, files: cfg.Files, logger: logger}
	ch := &chatHandler{
		projects:      cfg.Projects,
		conversations: cfg.Conversations,
		answerer:      cfg.Answerer,
		makeAnswerer:  cfg.MakeAnswerer,
		logger:        logger,
	}
	vh := &conversationHandler{projects: cfg.Projects, conversations: cfg.Conversations, logger: logger}
	lh := &providersHandler{active: cfg.ModelOptions, logger: logger}

	// Routes requiring a bearer token.
	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/auth/me", ah.me)

	protected.HandleFunc("POST /api/projects", ph.create)
	protected.HandleFunc("GET /api/projects", ph.list)
	protected.HandleFunc("GET /api/projects/{id}", ph.get)
	protected.HandleFunc("DELETE /api/projects/{id}", ph.delete)

	protected.HandleFunc("POST /api/projects/{id}/upload", dh.upload)
	protected.HandleFunc("GET /api/projects/{id}/files", dh.listFiles)
	protected.HandleFunc("DELETE /api/projects/{id}/files/{filename}", dh.deleteFile)

	protected.HandleFunc("POST /api/chat", ch.send)

	protected.HandleFunc("GET /api/conversations", vh.list)
	protected.HandleFunc("GET /api/conversations/{id}/messages", vh.messages)
	protected.HandleFunc("PATCH /api/conversations/{id}", vh.rename)
	protected.HandleFunc("DELETE /api/conversations/{id}", vh.delete)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", ah.register)
	mux.HandleFunc("POST /api/auth/token", ah.token)
	mux.HandleFunc("GET /api/providers", lh.list)
	mux.Handle("/api/", authMiddleware(cfg.Tokens, cfg.Users, logger)(protected))

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(limit, burst)

	// Middleware stack, outermost first:
	//   RequestID → Recovery → Logging → RateLimit → Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      5 * time.Minute, // model generation can be slow
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return <-errCh
}
