// Package httpapi is the HTTP face of the gateway. It owns request
// decoding, identity resolution and status mapping; all domain
// decisions stay behind the orchestrator contract.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"promptgate/internal/metrics"
	"promptgate/internal/orchestrator"
	"promptgate/pkg/logx"
)

type Config struct {
	Addr         string
	Auth         AuthConfig
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Identity exposes the auth middleware's resolved identity to sibling
// transports mounted on the same server.
func Identity(ctx context.Context) string { return identityFrom(ctx) }

// HealthChecker is one named dependency probed by the health endpoint.
type HealthChecker struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	cfg     Config
	orch    *orchestrator.Orchestrator
	metrics *metrics.Collector
	health  []HealthChecker
	extra   map[string]http.Handler
	log     logx.Logger

	mu       sync.Mutex
	srv      *http.Server
	ln       net.Listener
	stopDone chan struct{}
}

func NewServer(cfg Config, orch *orchestrator.Orchestrator, mc *metrics.Collector, health []HealthChecker, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 35 * time.Minute // sync optimizations can be slow
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	return &Server{cfg: cfg, orch: orch, metrics: mc, health: health, log: log}
}

// Mount attaches an extra handler (like the WebSocket endpoint) at
// pattern. Must be called before Start.
func (s *Server) Mount(pattern string, h http.Handler) {
	if s.extra == nil {
		s.extra = make(map[string]http.Handler)
	}
	s.extra[pattern] = h
}

// Handler builds the full route tree with the middleware chain applied.
// Split out from Start so tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/optimize", s.handleOptimize)
	mux.HandleFunc("POST /api/v1/score", s.handleScore)
	mux.HandleFunc("POST /api/v1/compare", s.handleCompare)
	mux.HandleFunc("GET /api/v1/status/{id}", s.handleStatus)
	mux.HandleFunc("POST /api/v1/cancel/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.Handle("GET /metrics", s.metrics.Handler())
	for pattern, h := range s.extra {
		mux.Handle(pattern, h)
	}

	return chain(mux,
		recoverMiddleware(s.log),
		logMiddleware(s.log),
		authMiddleware(s.cfg.Auth),
	)
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.srv = srv
	s.ln = ln
	s.stopDone = make(chan struct{})
	done := s.stopDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server exited", logx.Err(err))
		}
	}()
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	done := s.stopDone
	s.srv = nil
	s.ln = nil
	s.stopDone = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
}

// Addr reports the bound listen address (useful with ":0" in tests).
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
