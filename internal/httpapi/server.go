package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nicolasforstinger/lucyd-sub001/internal/observability"
	"github.com/nicolasforstinger/lucyd-sub001/internal/ratelimit"
)

// authExemptPaths never require a bearer token — used for the health
// check so external monitors can probe without a secret.
var authExemptPaths = map[string]bool{
	"/api/v1/status": true,
}

// statusPaths get the lenient rate-limit tier; everything else gets the
// tight one.
var statusPaths = map[string]bool{
	"/api/v1/status":   true,
	"/api/v1/sessions": true,
	"/api/v1/cost":     true,
}

// Server is the HTTP ingress: it validates and rate-limits requests, then
// enqueues QueueItems for the dispatcher to consume.
type Server struct {
	cfg   Config
	queue chan<- QueueItem
	log   *observability.Logger

	tightLimiter   *ratelimit.Limiter
	lenientLimiter *ratelimit.Limiter

	httpSrv *http.Server
}

// New builds a Server that enqueues onto queue.
func New(cfg Config, queue chan<- QueueItem, log *observability.Logger) *Server {
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "/tmp/lucyd-http"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	return &Server{
		cfg:            cfg,
		queue:          queue,
		log:            log,
		tightLimiter:   ratelimit.New(30, 60*time.Second),
		lenientLimiter: ratelimit.New(60, 60*time.Second),
	}
}

// Start begins listening in the background; it returns once the listener
// is bound or binding fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", s.wrap(s.handleChat))
	mux.HandleFunc("POST /api/v1/notify", s.wrap(s.handleNotify))
	mux.HandleFunc("GET /api/v1/status", s.wrap(s.handleStatus))
	mux.HandleFunc("GET /api/v1/sessions", s.wrap(s.handleSessions))
	mux.HandleFunc("GET /api/v1/cost", s.wrap(s.handleCost))

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{Handler: http.MaxBytesHandler(mux, s.cfg.MaxBodyBytes)}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.Error("HTTP API stopped unexpectedly", "error", err)
			}
		}
	}()
	if s.log != nil {
		s.log.Info("HTTP API listening", "addr", addr)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	if s.log != nil {
		s.log.Info("HTTP API stopped")
	}
	return err
}

// wrap applies the auth and rate-limit middleware, in that order, to a
// handler — an unauthenticated caller never gets to consume a rate-limit
// slot.
func (s *Server) wrap(h http.HandlerFunc) http.HandlerFunc {
	return s.authMiddleware(s.rateMiddleware(h))
}
