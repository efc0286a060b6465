// Package app is the composition root: it builds every service from
// the config file, wires them together explicitly, and owns start and
// stop ordering. Nothing in here holds domain logic.
package app

import (
	"context"
	"fmt"
	"time"

	"promptgate/internal/cache"
	"promptgate/internal/config"
	"promptgate/internal/fanout"
	"promptgate/internal/jobs"
	"promptgate/internal/maintenance"
	"promptgate/internal/metrics"
	"promptgate/internal/observability/pprof"
	"promptgate/internal/optimizer"
	"promptgate/internal/orchestrator"
	"promptgate/internal/ratelimit"
	"promptgate/internal/storage"
	"promptgate/internal/transport/httpapi"
	"promptgate/internal/transport/ws"
	"promptgate/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	jobs    *jobs.Manager
	cache   *cache.Service
	hub     *fanout.Hub
	orch    *orchestrator.Orchestrator
	maint   *maintenance.Service
	metrics *metrics.Collector
	server  *httpapi.Server
	pprof   *pprof.Service

	cancelWatch context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		return validate(c)
	})

	a := &App{cfgm: cfgm, log: log, logs: logSvc}

	// Storage is optional; cache and rate limiting degrade gracefully
	// without it.
	if sc, enabled, err := mapStorage(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	jobsCfg, err := mapJobs(cfg)
	if err != nil {
		return nil, err
	}
	a.jobs = jobs.NewManager(jobsCfg, log.With(logx.String("comp", "jobs")))
	a.hub = fanout.NewHub(log.With(logx.String("comp", "fanout")))

	cacheCfg, err := mapCache(cfg)
	if err != nil {
		return nil, err
	}
	cacheStore := a.store
	if !cfg.Cache.Enabled {
		cacheStore = nil
	}
	a.cache = cache.New(cacheCfg, cacheStore, log.With(logx.String("comp", "cache")))

	rlCfg, err := mapRateLimit(cfg)
	if err != nil {
		return nil, err
	}
	rlStore := a.store
	if !cfg.RateLimit.Enabled {
		rlStore = nil
	}
	limiter := ratelimit.New(rlCfg, rlStore, log.With(logx.String("comp", "ratelimit")))

	optCfg, err := mapOptimizer(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := optimizer.NewClient(optCfg, log.With(logx.String("comp", "optimizer")))
	if err != nil {
		return nil, err
	}

	orchCfg, err := mapOrchestrator(cfg)
	if err != nil {
		return nil, err
	}
	a.orch = orchestrator.New(orchCfg, orchestrator.Deps{
		Jobs:    a.jobs,
		Cache:   a.cache,
		Limiter: limiter,
		Hub:     a.hub,
		Backend: backend,
		Log:     log.With(logx.String("comp", "orchestrator")),
	})

	a.maint = maintenance.New(mapMaintenance(cfg), a.jobs, a.store, log.With(logx.String("comp", "maintenance")))
	a.metrics = metrics.NewCollector(metrics.Sources{
		Jobs:    a.jobs,
		Cache:   a.cache,
		Hub:     a.hub,
		Backend: backend,
	})

	srvCfg, err := mapServer(cfg)
	if err != nil {
		return nil, err
	}
	health := []httpapi.HealthChecker{
		{Name: "optimizer", Check: backend.HealthCheck},
		{Name: "cache", Check: a.cache.HealthCheck},
		{Name: "jobs", Check: func(context.Context) error { _ = a.jobs.Metrics(); return nil }},
	}
	a.server = httpapi.NewServer(srvCfg, a.orch, a.metrics, health, log.With(logx.String("comp", "http")))
	a.server.Mount("GET /ws/optimize", ws.NewHandler(ws.Config{}, a.orch, a.hub, log.With(logx.String("comp", "ws"))))

	a.pprof = pprof.New(mapPprof(cfg), log.With(logx.String("comp", "pprof")))

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.orch.Start(ctx)
	if err := a.maint.Start(ctx); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	if err := a.pprof.Start(ctx); err != nil {
		a.log.Warn("pprof disabled", logx.Err(err))
	}
	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.cancelWatch = cancel
	// Watch blocks until its context is cancelled.
	go func() {
		if err := a.cfgm.Watch(watchCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go a.reloadLoop(watchCtx)

	a.log.Info("promptgate started", logx.String("addr", a.server.Addr()))
	return nil
}

// reloadLoop applies the hot-reloadable subset of the config: logging.
// Structural changes (addresses, pool sizes, storage) need a restart
// and are logged as such.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logs.Apply(mapLogging(cfg))
			a.log.Info("config reloaded; logging settings applied, structural changes need a restart")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.cancelWatch != nil {
		a.cancelWatch()
	}

	// Bound each shutdown step so one stuck component cannot stall the
	// whole stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		fn(stepCtx)
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("http", 10*time.Second, a.server.Stop)
	step("pprof", 3*time.Second, a.pprof.Stop)
	step("maintenance", 3*time.Second, a.maint.Stop)
	step("orchestrator", 30*time.Second, a.orch.Stop)

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

func validate(cfg *config.Config) error {
	if cfg.Optimizer.BaseURL == "" {
		return fmt.Errorf("optimizer.base_url is required")
	}
	if cfg.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("rate_limit.max_requests must be >= 0")
	}
	if cfg.Executor.Workers < 0 {
		return fmt.Errorf("executor.workers must be >= 0")
	}
	if cfg.Executor.QueueSize < 0 {
		return fmt.Errorf("executor.queue_size must be >= 0")
	}
	if cfg.Jobs.MaxEntries < 0 {
		return fmt.Errorf("jobs.max_entries must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeout},
		{"optimizer.timeout", cfg.Optimizer.Timeout},
		{"cache.ttl", cfg.Cache.TTL},
		{"rate_limit.window", cfg.RateLimit.Window},
		{"jobs.ttl", cfg.Jobs.TTL},
		{"executor.job_timeout", cfg.Executor.JobTimeout},
	} {
		if f.raw == "" {
			continue
		}
		if _, err := config.ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cfg.Storage != nil && cfg.Storage.BusyTimeout != "" {
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
