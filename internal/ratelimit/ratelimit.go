// Package ratelimit enforces a per-identity sliding window over the
// shared persistent store. The limiter fails open: if the store is
// unavailable or errors, requests are admitted so that a degraded
// backend never blocks traffic.
package ratelimit

import (
	"context"
	"time"

	"promptgate/internal/storage"
	"promptgate/pkg/logx"
)

type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Decision describes the outcome of a limit check. When Allowed is
// false, ResetAt is the instant the oldest counted event leaves the
// window and capacity frees up.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter struct {
	cfg   Config
	store storage.Store
	log   logx.Logger
}

func New(cfg Config, store storage.Store, log logx.Logger) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &Limiter{cfg: cfg, store: store, log: log}
}

// Allow checks and, when admitted, records one request for identity.
// Rejected requests are never recorded, so a client hammering a full
// window does not push its own reset time further out.
func (l *Limiter) Allow(ctx context.Context, identity string) Decision {
	now := time.Now()
	if l.store == nil {
		return Decision{Allowed: true, Limit: l.cfg.MaxRequests, Remaining: l.cfg.MaxRequests - 1, ResetAt: now.Add(l.cfg.Window)}
	}
	dec, err := l.store.TakeRate(ctx, identity, now.Add(-l.cfg.Window), now, l.cfg.MaxRequests)
	if err != nil {
		l.log.Warn("rate limit check failed, admitting request", logx.String("identity", identity), logx.Err(err))
		return Decision{Allowed: true, Limit: l.cfg.MaxRequests, Remaining: l.cfg.MaxRequests - 1, ResetAt: now.Add(l.cfg.Window)}
	}
	out := Decision{
		Allowed: dec.Allowed,
		Limit:   l.cfg.MaxRequests,
		ResetAt: now.Add(l.cfg.Window),
	}
	if dec.Allowed {
		// dec.Count is the window population before this request was recorded.
		out.Remaining = l.cfg.MaxRequests - dec.Count - 1
		if out.Remaining < 0 {
			out.Remaining = 0
		}
	} else if !dec.Oldest.IsZero() {
		out.ResetAt = dec.Oldest.Add(l.cfg.Window)
	}
	return out
}
