package storage

// Package storage provides the external key-value layer behind the cache and
// the rate limiter.
//
// It currently supports:
//   - TTL'd entries (serialized optimization/score results)
//   - Per-identity rate windows taken atomically per key
