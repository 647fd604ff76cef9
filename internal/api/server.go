package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/murmurhq/murmur/internal/log"
	"github.com/murmurhq/murmur/internal/session"
)

// ServerConfig assembles the HTTP server.
type ServerConfig struct {
	Logger log.Logger

	// Agent runs chat turns. Required.
	Agent turnRunner

	// Sessions is the session store. Required.
	Sessions sessionStore

	// Guard serializes turns per session. Required.
	Guard *session.Guard

	// Pool enables database status in /ready when set.
	Pool *pgxpool.Pool

	// AuthSecret signs bearer tokens. At least 32 bytes.
	AuthSecret []byte

	// TokenTTL overrides the default bearer token lifetime.
	TokenTTL time.Duration

	CORSOrigins []string
	TrustProxy  bool
	IsDev       bool

	// RateLimit is the per-IP refill rate in requests per second
	// (default 1). RateBurst is the bucket size (default 60).
	RateLimit float64
	RateBurst int
}

// Server is the JSON API server.
type Server struct {
	mux *http.ServeMux
}

// NewServer wires routes, middleware, and auth.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Guard == nil {
		return nil, errors.New("session guard is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	tokens, err := newTokenAuthority(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	sh := &sessionHandler{store: cfg.Sessions, tokens: tokens, logger: logger}
	ch := &chatHandler{agent: cfg.Agent, sessions: cfg.Sessions, guard: cfg.Guard, logger: logger}

	auth := authMiddleware(tokens, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", sh.create)
	mux.Handle("DELETE /api/v1/sessions", auth(http.HandlerFunc(sh.delete)))
	mux.Handle("POST /api/v1/chat", auth(http.HandlerFunc(ch.send)))
	mux.Handle("POST /api/v1/chat/stream", auth(http.HandlerFunc(ch.streamChat)))
	mux.Handle("GET /api/v1/messages", auth(http.HandlerFunc(sh.list)))
	mux.Handle("DELETE /api/v1/messages", auth(http.HandlerFunc(sh.clear)))

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 1.0
	}
	rl := newRateLimiter(limit, burst)

	// Middleware stack, outermost first:
	//   recovery, request ID, logging, CORS, rate limit, routes.
	// Request ID sits outside logging so every log line carries it.
	// CORS sits outside the rate limiter so preflights get headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
