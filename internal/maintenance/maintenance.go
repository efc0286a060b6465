// Package maintenance runs the gateway's periodic housekeeping on cron
// schedules: reaping finished jobs from the tracking table and pruning
// expired entries from the persistent store.
package maintenance

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"promptgate/internal/jobs"
	"promptgate/internal/storage"
	"promptgate/pkg/logx"
)

type Config struct {
	JobReapSchedule    string // default "@every 5m"
	StorePruneSchedule string // default "@every 1h"
}

type Service struct {
	cfg   Config
	jobs  *jobs.Manager
	store storage.Store
	log   logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, jm *jobs.Manager, store storage.Store, log logx.Logger) *Service {
	if cfg.JobReapSchedule == "" {
		cfg.JobReapSchedule = "@every 5m"
	}
	if cfg.StorePruneSchedule == "" {
		cfg.StorePruneSchedule = "@every 1h"
	}
	return &Service{cfg: cfg, jobs: jm, store: store, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)))

	if _, err := c.AddFunc(s.cfg.JobReapSchedule, s.guard("job reap", s.reapJobs)); err != nil {
		return err
	}
	if s.store != nil {
		if _, err := c.AddFunc(s.cfg.StorePruneSchedule, s.guard("store prune", s.pruneStore)); err != nil {
			return err
		}
	}
	c.Start()
	s.c = c
	s.log.Debug("maintenance started",
		logx.String("job_reap", s.cfg.JobReapSchedule),
		logx.String("store_prune", s.cfg.StorePruneSchedule))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// guard wraps a task so a panic inside housekeeping never takes the
// cron runner down.
func (s *Service) guard(name string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("maintenance task panicked",
					logx.String("task", name),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
			}
		}()
		fn()
	}
}

func (s *Service) reapJobs() {
	removed := s.jobs.Prune(time.Now())
	if removed > 0 {
		s.log.Info("reaped finished jobs", logx.Int("removed", removed))
	}
}

func (s *Service) pruneStore() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := s.store.PruneExpired(ctx, time.Now())
	if err != nil {
		s.log.Warn("store prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		s.log.Info("pruned expired store entries", logx.Int("removed", removed))
	}
}
