package app

import (
	"time"

	"promptgate/internal/cache"
	"promptgate/internal/config"
	"promptgate/internal/jobs"
	"promptgate/internal/maintenance"
	"promptgate/internal/observability/pprof"
	"promptgate/internal/optimizer"
	"promptgate/internal/orchestrator"
	"promptgate/internal/ratelimit"
	"promptgate/internal/storage"
	"promptgate/internal/transport/httpapi"
	"promptgate/pkg/logx"
)

// The mapping layer converts the raw config file (string durations,
// optional sections) into the typed configs each service expects.
// Anything invalid fails here, before any service is constructed.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil || cfg.Storage.Driver == "" || cfg.Storage.Driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapCache(cfg *config.Config) (cache.Config, error) {
	ttl, err := config.ParseDurationOrDefault("cache.ttl", cfg.Cache.TTL, 24*time.Hour)
	if err != nil {
		return cache.Config{}, err
	}
	return cache.Config{TTL: ttl}, nil
}

func mapRateLimit(cfg *config.Config) (ratelimit.Config, error) {
	window, err := config.ParseDurationOrDefault("rate_limit.window", cfg.RateLimit.Window, time.Hour)
	if err != nil {
		return ratelimit.Config{}, err
	}
	return ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      window,
	}, nil
}

func mapJobs(cfg *config.Config) (jobs.Config, error) {
	ttl, err := config.ParseDurationOrDefault("jobs.ttl", cfg.Jobs.TTL, 24*time.Hour)
	if err != nil {
		return jobs.Config{}, err
	}
	return jobs.Config{TTL: ttl, MaxEntries: cfg.Jobs.MaxEntries}, nil
}

func mapOrchestrator(cfg *config.Config) (orchestrator.Config, error) {
	timeout, err := config.ParseDurationOrDefault("executor.job_timeout", cfg.Executor.JobTimeout, 30*time.Minute)
	if err != nil {
		return orchestrator.Config{}, err
	}
	return orchestrator.Config{
		Executor: orchestrator.ExecutorConfig{
			Workers:    cfg.Executor.Workers,
			QueueSize:  cfg.Executor.QueueSize,
			JobTimeout: timeout,
		},
		Thresholds: orchestrator.Thresholds{
			Iterations: cfg.Executor.AsyncIterations,
			FewShot:    cfg.Executor.AsyncFewShot,
			PromptLen:  cfg.Executor.AsyncPromptLen,
		},
	}, nil
}

func mapOptimizer(cfg *config.Config) (optimizer.ClientConfig, error) {
	timeout, err := config.ParseDurationOrDefault("optimizer.timeout", cfg.Optimizer.Timeout, 2*time.Minute)
	if err != nil {
		return optimizer.ClientConfig{}, err
	}
	return optimizer.ClientConfig{
		BaseURL:    cfg.Optimizer.BaseURL,
		APIKey:     cfg.Optimizer.APIKey,
		Timeout:    timeout,
		RatePerSec: cfg.Optimizer.RatePerSec,
	}, nil
}

func mapServer(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 35*time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("server.idle_timeout", cfg.Server.IdleTimeout, 2*time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8000"
	}
	return httpapi.Config{
		Addr: addr,
		Auth: httpapi.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			APIKeys: cfg.Auth.APIKeys,
		},
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

func mapMaintenance(cfg *config.Config) maintenance.Config {
	return maintenance.Config{
		JobReapSchedule: cfg.Jobs.ReapSchedule,
	}
}

func mapPprof(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled: cfg.Pprof.Enabled,
		Addr:    cfg.Pprof.Addr,
	}
}
