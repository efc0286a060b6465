// Package jobs tracks asynchronous optimization jobs through their
// lifecycle: processing, then one of the terminal states completed,
// failed or cancelled. Transitions out of a terminal state are
// ignored, so late worker updates after a cancel are harmless.
package jobs

import (
	"sort"
	"sync"
	"time"

	"promptgate/internal/optimize"
	"promptgate/pkg/logx"
)

// Config bounds how long finished jobs stay queryable.
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// Manager owns the job table. All methods are safe for concurrent use.
type Manager struct {
	cfg Config
	log logx.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	// completion stats, guarded by mu
	completed      uint64
	completionTime time.Duration
}

func NewManager(cfg Config, log logx.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	return &Manager{
		cfg:  cfg,
		log:  log,
		jobs: make(map[string]*Job),
	}
}

// Create registers a new processing job for req and returns its snapshot.
func (m *Manager) Create(req optimize.Request) Job {
	j := newJob(req)
	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()
	m.log.Debug("job created", logx.String("job_id", j.ID))
	return j.snapshot()
}

// Get returns a snapshot of the job, if it exists.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// UpdateProgress advances the job's progress and step description.
// Progress is clamped to [0,100] and never decreases. Updates against
// unknown or terminal jobs are dropped.
func (m *Manager) UpdateProgress(id string, percent int, step string) (Job, bool) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		return Job{}, false
	}
	if percent > j.Progress {
		j.Progress = percent
	}
	j.CurrentStep = step
	j.UpdatedAt = time.Now()
	return j.snapshot(), true
}

// Complete marks the job completed with its result. A no-op if the job
// is unknown or already terminal.
func (m *Manager) Complete(id string, result *optimize.Result) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		return Job{}, false
	}
	now := time.Now()
	j.Status = StatusCompleted
	j.Progress = 100
	j.CurrentStep = ""
	j.Result = result
	j.UpdatedAt = now
	m.completed++
	m.completionTime += now.Sub(j.CreatedAt)
	return j.snapshot(), true
}

// Fail marks the job failed. A no-op if the job is unknown or terminal.
func (m *Manager) Fail(id string, jobErr *optimize.Error) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		return Job{}, false
	}
	j.Status = StatusFailed
	j.Error = jobErr
	j.UpdatedAt = time.Now()
	return j.snapshot(), true
}

// Cancel requests cancellation. It reports true only when the job
// actually transitioned to cancelled; terminal jobs are left untouched.
func (m *Manager) Cancel(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		return Job{}, false
	}
	j.Status = StatusCancelled
	j.CurrentStep = ""
	j.UpdatedAt = time.Now()
	return j.snapshot(), true
}

// Cancelled reports whether the job has been cancelled. Workers poll
// this between pipeline stages to stop early.
func (m *Manager) Cancelled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return ok && j.Status == StatusCancelled
}

// Metrics summarizes the current job table.
type Metrics struct {
	Total                int            `json:"total_jobs"`
	ByStatus             map[Status]int `json:"jobs_by_status"`
	AvgCompletionSeconds float64        `json:"average_completion_seconds"`
}

func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := Metrics{
		Total:    len(m.jobs),
		ByStatus: make(map[Status]int, 5),
	}
	for _, j := range m.jobs {
		out.ByStatus[j.Status]++
	}
	if m.completed > 0 {
		out.AvgCompletionSeconds = (m.completionTime / time.Duration(m.completed)).Seconds()
	}
	return out
}

// Prune drops terminal jobs older than the TTL, then evicts the oldest
// terminal jobs until the table fits MaxEntries. Returns how many were
// removed.
func (m *Manager) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := now.Add(-m.cfg.TTL)
	for id, j := range m.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}

	if len(m.jobs) > m.cfg.MaxEntries {
		terminal := make([]*Job, 0, len(m.jobs))
		for _, j := range m.jobs {
			if j.Status.Terminal() {
				terminal = append(terminal, j)
			}
		}
		sort.Slice(terminal, func(i, k int) bool {
			return terminal[i].UpdatedAt.Before(terminal[k].UpdatedAt)
		})
		for _, j := range terminal {
			if len(m.jobs) <= m.cfg.MaxEntries {
				break
			}
			delete(m.jobs, j.ID)
			removed++
		}
	}
	if removed > 0 {
		m.log.Debug("pruned finished jobs", logx.Int("removed", removed), logx.Int("remaining", len(m.jobs)))
	}
	return removed
}
