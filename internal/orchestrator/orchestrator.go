// Package orchestrator ties the gateway together: it takes validated
// optimization requests through cache lookup, rate limiting and either
// inline or background execution, and feeds progress to the fanout hub.
package orchestrator

import (
	"context"
	"time"

	"promptgate/internal/cache"
	"promptgate/internal/fanout"
	"promptgate/internal/jobs"
	"promptgate/internal/optimize"
	"promptgate/internal/optimizer"
	"promptgate/internal/ratelimit"
	"promptgate/pkg/logx"
)

// Event names pushed through the fanout hub.
const (
	EventJobStarted         = "job_started"
	EventProgressUpdate     = "progress_update"
	EventOptimizationDone   = "optimization_complete"
	EventOptimizationFailed = "optimization_failed"
	EventJobCancelled       = "job_cancelled"
)

// Async thresholds: a request heavier than any of these goes to the
// background pool instead of blocking the caller.
type Thresholds struct {
	Iterations int
	FewShot    int
	PromptLen  int
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Iterations <= 0 {
		t.Iterations = 3
	}
	if t.FewShot <= 0 {
		t.FewShot = 10
	}
	if t.PromptLen <= 0 {
		t.PromptLen = 2000
	}
	return t
}

type Config struct {
	Executor   ExecutorConfig
	Thresholds Thresholds
}

// Submission is the outcome of Submit. Exactly one of the three shapes
// holds: a cached result, a synchronously computed result, or an async
// job handle the caller polls or subscribes to.
type Submission struct {
	Job    jobs.Job
	Result *optimize.Result
	Cached bool
	Async  bool
	Rate   ratelimit.Decision
}

type Orchestrator struct {
	cfg     Config
	jobs    *jobs.Manager
	cache   *cache.Service
	limiter *ratelimit.Limiter
	hub     *fanout.Hub
	backend optimizer.Optimizer
	exec    *executor
	log     logx.Logger
}

func New(cfg Config, deps Deps) *Orchestrator {
	cfg.Thresholds = cfg.Thresholds.withDefaults()
	o := &Orchestrator{
		cfg:     cfg,
		jobs:    deps.Jobs,
		cache:   deps.Cache,
		limiter: deps.Limiter,
		hub:     deps.Hub,
		backend: deps.Backend,
		log:     deps.Log,
	}
	o.exec = newExecutor(cfg.Executor, o.runJob, deps.Log)
	return o
}

// Deps are the collaborating services, constructed by the composition
// root and passed in explicitly.
type Deps struct {
	Jobs    *jobs.Manager
	Cache   *cache.Service
	Limiter *ratelimit.Limiter
	Hub     *fanout.Hub
	Backend optimizer.Optimizer
	Log     logx.Logger
}

func (o *Orchestrator) Start(ctx context.Context) { o.exec.Start(ctx) }
func (o *Orchestrator) Stop(ctx context.Context)  { o.exec.Stop(ctx) }

// Submit runs the full intake pipeline for an optimization request.
// Cache hits return before the rate limiter is consulted, so repeat
// requests never burn quota. Subscribers are registered on the hub
// before the job is handed to the pool, so they see every event from
// job_started on; transports that learn the job ID only from the
// returned handle would otherwise race the first milestones.
func (o *Orchestrator) Submit(ctx context.Context, identity string, req optimize.Request, subscribers ...fanout.Channel) (*Submission, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if res, ok := o.cache.Get(ctx, req); ok {
		o.log.Debug("cache hit", logx.String("identity", identity))
		return &Submission{Result: res, Cached: true}, nil
	}

	dec := o.limiter.Allow(ctx, identity)
	if !dec.Allowed {
		return nil, &optimize.Error{
			Kind:    optimize.KindRateLimit,
			Message: "rate limit exceeded",
			ResetAt: dec.ResetAt,
			Limit:   dec.Limit,
		}
	}

	job := o.jobs.Create(req)
	for _, ch := range subscribers {
		o.hub.Subscribe(job.ID, ch)
	}

	if o.isAsync(req) {
		if err := o.exec.Enqueue(job); err != nil {
			schedErr := optimize.Wrap(optimize.KindInternal, err, "could not schedule job")
			if snap, ok := o.jobs.Fail(job.ID, schedErr); ok {
				o.hub.Publish(job.ID, EventOptimizationFailed, snap)
			}
			return nil, schedErr
		}
		return &Submission{Job: job, Async: true, Rate: dec}, nil
	}

	// Synchronous path: run inline under the same per-job timeout the
	// pool would apply.
	runCtx, cancel := context.WithTimeout(ctx, o.exec.cfg.JobTimeout)
	defer cancel()
	o.runJob(runCtx, job)

	done, ok := o.jobs.Get(job.ID)
	if !ok {
		return nil, optimize.Errorf(optimize.KindInternal, "job vanished during execution")
	}
	switch done.Status {
	case jobs.StatusCompleted:
		return &Submission{Job: done, Result: done.Result, Rate: dec}, nil
	case jobs.StatusCancelled:
		return &Submission{Job: done, Rate: dec}, nil
	default:
		if done.Error != nil {
			return nil, done.Error
		}
		return nil, optimize.Errorf(optimize.KindInternal, "job finished in unexpected state %q", done.Status)
	}
}

func (o *Orchestrator) isAsync(req optimize.Request) bool {
	t := o.cfg.Thresholds
	return req.Iterations > t.Iterations ||
		req.FewShotCount > t.FewShot ||
		len(req.Prompt) > t.PromptLen
}

// Status returns the job snapshot for polling clients.
func (o *Orchestrator) Status(id string) (jobs.Job, error) {
	j, ok := o.jobs.Get(id)
	if !ok {
		return jobs.Job{}, optimize.Errorf(optimize.KindNotFound, "job %s not found", id)
	}
	return j, nil
}

// Cancel requests cooperative cancellation. Terminal jobs report a
// validation error so callers can tell "already done" from "unknown".
func (o *Orchestrator) Cancel(id string) (jobs.Job, error) {
	j, ok := o.jobs.Cancel(id)
	if ok {
		o.hub.Publish(id, EventJobCancelled, j)
		return j, nil
	}
	existing, found := o.jobs.Get(id)
	if !found {
		return jobs.Job{}, optimize.Errorf(optimize.KindNotFound, "job %s not found", id)
	}
	return existing, optimize.Errorf(optimize.KindValidation, "job %s is already %s", id, existing.Status)
}

// Score rates a prompt. Scores are cached under their own namespace
// and, like optimizations, cache hits skip the rate limiter. The
// returned decision carries the caller's remaining quota; it is zero
// for cache hits, which never consume any.
func (o *Orchestrator) Score(ctx context.Context, identity string, req optimize.ScoreRequest) (*optimize.Score, ratelimit.Decision, error) {
	if err := req.Validate(); err != nil {
		return nil, ratelimit.Decision{}, err
	}
	if sc, ok := o.cache.GetScore(ctx, req); ok {
		return sc, ratelimit.Decision{}, nil
	}
	dec := o.limiter.Allow(ctx, identity)
	if !dec.Allowed {
		return nil, dec, &optimize.Error{Kind: optimize.KindRateLimit, Message: "rate limit exceeded", ResetAt: dec.ResetAt, Limit: dec.Limit}
	}
	sc, err := o.backend.Score(ctx, req)
	if err != nil {
		return nil, dec, optimize.AsError(err)
	}
	o.cache.SetScore(ctx, req, sc)
	return sc, dec, nil
}

// Compare assesses an original/optimized prompt pair. Comparisons are
// not cached; the pair space is too sparse to be worth the entries.
func (o *Orchestrator) Compare(ctx context.Context, identity string, req optimize.CompareRequest) (*optimize.Comparison, ratelimit.Decision, error) {
	if err := req.Validate(); err != nil {
		return nil, ratelimit.Decision{}, err
	}
	dec := o.limiter.Allow(ctx, identity)
	if !dec.Allowed {
		return nil, dec, &optimize.Error{Kind: optimize.KindRateLimit, Message: "rate limit exceeded", ResetAt: dec.ResetAt, Limit: dec.Limit}
	}
	cmp, err := o.backend.Compare(ctx, req)
	if err != nil {
		return nil, dec, optimize.AsError(err)
	}
	return cmp, dec, nil
}

// progress milestones surrounding the single upstream call.
var milestones = []struct {
	Percent int
	Step    string
}{
	{10, "analyzing prompt structure"},
	{25, "generating optimization examples"},
	{50, "running optimizer"},
}

// runJob drives one job through the optimization pipeline. Cancellation
// is polled at every milestone; a cancel between polls means at most
// one extra upstream call completes and is discarded.
func (o *Orchestrator) runJob(ctx context.Context, job jobs.Job) {
	if o.jobs.Cancelled(job.ID) {
		return
	}
	o.hub.Publish(job.ID, EventJobStarted, job)

	for _, m := range milestones {
		if o.jobs.Cancelled(job.ID) {
			return
		}
		if snap, ok := o.jobs.UpdateProgress(job.ID, m.Percent, m.Step); ok {
			o.hub.Publish(job.ID, EventProgressUpdate, snap)
		} else {
			return
		}
	}

	res, err := o.backend.Optimize(ctx, job.Request)
	if err != nil {
		o.failJob(job.ID, err)
		return
	}
	if o.jobs.Cancelled(job.ID) {
		return
	}

	if snap, ok := o.jobs.UpdateProgress(job.ID, 75, "validating optimized prompt"); ok {
		o.hub.Publish(job.ID, EventProgressUpdate, snap)
	} else {
		return
	}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}
	if res.OriginalPrompt == "" {
		res.OriginalPrompt = job.Request.Prompt
	}

	if snap, ok := o.jobs.UpdateProgress(job.ID, 90, "finalizing results"); ok {
		o.hub.Publish(job.ID, EventProgressUpdate, snap)
	} else {
		return
	}
	o.cache.Set(ctx, job.Request, res)

	if snap, ok := o.jobs.Complete(job.ID, res); ok {
		o.hub.Publish(job.ID, EventOptimizationDone, snap)
	}
}

func (o *Orchestrator) failJob(id string, err error) {
	jobErr := optimize.AsError(err)
	if jobErr.Kind == optimize.KindInternal {
		// Untyped backend errors surface as optimizer failures.
		jobErr = &optimize.Error{Kind: optimize.KindOptimizerFailure, Message: "optimization failed", Wrapped: err}
	}
	if snap, ok := o.jobs.Fail(id, jobErr); ok {
		o.log.Warn("job failed", logx.String("job_id", id), logx.Err(err))
		o.hub.Publish(id, EventOptimizationFailed, snap)
	}
}

// Healthy aggregates the orchestrator's own readiness for the health
// endpoint: the pool accepts work and the upstream responds.
func (o *Orchestrator) Healthy(ctx context.Context) error {
	return o.backend.HealthCheck(ctx)
}
