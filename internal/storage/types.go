package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + journal)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the cache and rate
// limiter run in their degraded (fail-soft / fail-open) modes.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RateDecision is the outcome of one atomic sliding-window take.
type RateDecision struct {
	Allowed bool
	// Count is the number of requests inside the window before this one.
	Count int
	// Oldest is the oldest surviving timestamp in the window; zero when the
	// window was empty. Callers derive the reset time from it on rejection.
	Oldest time.Time
}

// Store is the persistence API used by the cache layer and the rate limiter.
//
// All methods must be safe for concurrent use. TakeRate must be atomic per
// identity: two concurrent calls for the same identity may never both be
// admitted into the last remaining slot.
type Store interface {
	// PutEntry stores value under key until the given expiry, replacing any
	// previous value (last-writer-wins).
	PutEntry(ctx context.Context, key string, value []byte, until time.Time) error
	// GetEntry returns the stored value, or ok=false on miss or expiry.
	GetEntry(ctx context.Context, key string) (value []byte, ok bool, err error)
	// TakeRate prunes timestamps older than windowStart for the identity,
	// counts the survivors, and records now only when count < max.
	TakeRate(ctx context.Context, identity string, windowStart, now time.Time, max int) (RateDecision, error)
	// PruneExpired drops expired entries and stale rate timestamps.
	PruneExpired(ctx context.Context, now time.Time) (removed int, err error)
	// Ping reports backend reachability for composite health.
	Ping(ctx context.Context) error
	Close() error
}
