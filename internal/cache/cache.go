// Package cache stores finished optimization and scoring results keyed
// by request fingerprint. It is strictly best-effort: storage failures
// degrade to cache misses and never fail a request.
package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"promptgate/internal/optimize"
	"promptgate/internal/storage"
	"promptgate/pkg/logx"
)

// Key prefixes keep optimization and score results in disjoint
// namespaces even when prompt and task collide.
const (
	optimizePrefix = "opt:"
	scorePrefix    = "score:"
)

type Config struct {
	TTL time.Duration
}

// Service wraps a storage.Store with fingerprint-derived keys and a TTL.
// A nil store disables caching entirely; every lookup is then a miss.
type Service struct {
	store storage.Store
	ttl   time.Duration
	log   logx.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Service{store: store, ttl: cfg.TTL, log: log}
}

// Get looks up a cached optimization result for req. Any storage error
// is logged and reported as a miss.
func (s *Service) Get(ctx context.Context, req optimize.Request) (*optimize.Result, bool) {
	var out optimize.Result
	if !s.lookup(ctx, optimizePrefix+req.Fingerprint(), &out) {
		return nil, false
	}
	return &out, true
}

// Set stores an optimization result. Failures are logged and swallowed.
func (s *Service) Set(ctx context.Context, req optimize.Request, res *optimize.Result) {
	s.put(ctx, optimizePrefix+req.Fingerprint(), res)
}

// GetScore looks up a cached prompt score.
func (s *Service) GetScore(ctx context.Context, req optimize.ScoreRequest) (*optimize.Score, bool) {
	var out optimize.Score
	if !s.lookup(ctx, scorePrefix+req.Fingerprint(), &out) {
		return nil, false
	}
	return &out, true
}

// SetScore stores a prompt score.
func (s *Service) SetScore(ctx context.Context, req optimize.ScoreRequest, sc *optimize.Score) {
	s.put(ctx, scorePrefix+req.Fingerprint(), sc)
}

func (s *Service) lookup(ctx context.Context, key string, out any) bool {
	if s.store == nil {
		s.misses.Add(1)
		return false
	}
	raw, ok, err := s.store.GetEntry(ctx, key)
	if err != nil {
		s.log.Warn("cache lookup failed, treating as miss", logx.String("key", key), logx.Err(err))
		s.misses.Add(1)
		return false
	}
	if !ok {
		s.misses.Add(1)
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.log.Warn("cache entry corrupt, treating as miss", logx.String("key", key), logx.Err(err))
		s.misses.Add(1)
		return false
	}
	s.hits.Add(1)
	return true
}

func (s *Service) put(ctx context.Context, key string, v any) {
	if s.store == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("cache encode failed", logx.String("key", key), logx.Err(err))
		return
	}
	if err := s.store.PutEntry(ctx, key, raw, time.Now().Add(s.ttl)); err != nil {
		s.log.Warn("cache write failed", logx.String("key", key), logx.Err(err))
	}
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Enabled bool    `json:"enabled"`
}

func (s *Service) Stats() Stats {
	h, m := s.hits.Load(), s.misses.Load()
	st := Stats{Hits: h, Misses: m, Enabled: s.store != nil}
	if total := h + m; total > 0 {
		st.HitRate = float64(h) / float64(total)
	}
	return st
}

// HealthCheck reports whether the backing store is reachable. A
// disabled cache is healthy by definition.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Ping(ctx)
}
