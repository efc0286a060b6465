package config

// Config is the whole promptgate configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "30m").
type Config struct {
	Server    ServerConfig     `json:"server"`
	Logging   LoggingConfig    `json:"logging"`
	Auth      AuthConfig       `json:"auth"`
	Optimizer OptimizerConfig  `json:"optimizer"`
	Cache     CacheConfig      `json:"cache"`
	RateLimit RateLimitConfig  `json:"rate_limit"`
	Jobs      JobsConfig       `json:"jobs"`
	Executor  ExecutorConfig   `json:"executor"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Pprof     PprofConfig      `json:"pprof,omitempty"`
}

type ServerConfig struct {
	Addr         string `json:"addr,omitempty"` // default ":8000"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// AuthConfig maps API keys to subject identifiers. Token cryptography is an
// adapter concern; the core only ever sees the resolved client identity.
type AuthConfig struct {
	Enabled bool              `json:"enabled"`
	APIKeys map[string]string `json:"api_keys,omitempty"` // key -> subject
}

type OptimizerConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key,omitempty"`
	Timeout    string `json:"timeout,omitempty"`      // per-call; default "120s"
	RatePerSec int    `json:"rate_per_sec,omitempty"` // outbound limiter; default 5
}

type CacheConfig struct {
	Enabled bool   `json:"enabled"`
	TTL     string `json:"ttl,omitempty"` // default "24h"
}

type RateLimitConfig struct {
	Enabled     bool   `json:"enabled"`
	MaxRequests int    `json:"max_requests,omitempty"` // default 100
	Window      string `json:"window,omitempty"`       // default "1h"
}

// JobsConfig bounds the in-memory job table.
type JobsConfig struct {
	TTL          string `json:"ttl,omitempty"`           // terminal-job retention; default "24h"
	MaxEntries   int    `json:"max_entries,omitempty"`   // default 1000
	ReapSchedule string `json:"reap_schedule,omitempty"` // cron spec; default "@every 5m"
}

// ExecutorConfig controls the background execution pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 10
//   - queue_size: 64
//   - job_timeout: "30m"
type ExecutorConfig struct {
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	JobTimeout string `json:"job_timeout,omitempty"`

	// Async thresholds: a request exceeding any of these goes background.
	AsyncIterations int `json:"async_iterations,omitempty"` // default 3
	AsyncFewShot    int `json:"async_few_shot,omitempty"`   // default 10
	AsyncPromptLen  int `json:"async_prompt_len,omitempty"` // default 2000
}

// StorageConfig controls the external key-value store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./promptgate.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note: prefer binding to localhost (e.g. "127.0.0.1:6060").
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:6060"
}
