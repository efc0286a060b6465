package orchestrator

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"promptgate/internal/jobs"
	"promptgate/pkg/logx"
)

var (
	ErrQueueFull  = errors.New("executor: queue full")
	ErrNotRunning = errors.New("executor: not running")
)

type ExecutorConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// executor runs queued jobs on a bounded worker pool. Each run gets a
// fresh queue so a Stop/Start cycle never replays stale work.
type executor struct {
	mu  sync.Mutex
	cfg ExecutorConfig
	log logx.Logger
	run func(ctx context.Context, job jobs.Job)

	q        chan jobs.Job
	stopCh   chan struct{}
	stopDone chan struct{}
	wg       sync.WaitGroup
}

func newExecutor(cfg ExecutorConfig, run func(ctx context.Context, job jobs.Job), log logx.Logger) *executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	return &executor{cfg: cfg, run: run, log: log}
}

// Start is idempotent. If a previous Stop is still draining, it waits
// for the drain before spinning up again.
func (e *executor) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.stopCh != nil {
		done := e.stopDone
		e.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			e.Start(ctx)
		}
		return
	}
	e.q = make(chan jobs.Job, e.cfg.QueueSize)
	e.stopCh = make(chan struct{})
	e.stopDone = nil
	queue := e.q
	stopCh := e.stopCh
	workers := e.cfg.Workers
	e.mu.Unlock()

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.worker(ctx, stopCh, queue)
		}()
	}
	e.log.Debug("executor started", logx.Int("workers", workers), logx.Int("queue", e.cfg.QueueSize))
}

func (e *executor) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.stopCh == nil {
		e.mu.Unlock()
		return
	}
	if e.stopDone != nil {
		done := e.stopDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	e.stopDone = done
	close(e.stopCh)
	e.mu.Unlock()

	go func() {
		e.wg.Wait()
		e.mu.Lock()
		e.q = nil
		e.stopCh = nil
		e.stopDone = nil
		e.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Enqueue hands a job to the pool without blocking. A full queue is the
// caller's problem to surface.
func (e *executor) Enqueue(job jobs.Job) error {
	e.mu.Lock()
	queue := e.q
	e.mu.Unlock()
	if queue == nil {
		return ErrNotRunning
	}
	select {
	case queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (e *executor) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan jobs.Job) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case job, ok := <-queue:
			if !ok {
				return
			}
			e.execOne(ctx, job)
		}
	}
}

func (e *executor) execOne(ctx context.Context, job jobs.Job) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("job panicked",
				logx.String("job_id", job.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	e.run(runCtx, job)
}
