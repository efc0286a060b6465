package jobs

import (
	"time"

	"github.com/google/uuid"

	"promptgate/internal/optimize"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is a tracked unit of asynchronous optimization work.
//
// Jobs are owned exclusively by the Manager; callers only ever see value
// snapshots. Progress is monotonically non-decreasing while processing.
type Job struct {
	ID          string            `json:"job_id"`
	Status      Status            `json:"status"`
	Progress    int               `json:"progress"`
	CurrentStep string            `json:"current_step,omitempty"`
	Request     optimize.Request  `json:"-"`
	Result      *optimize.Result  `json:"result,omitempty"`
	Error       *optimize.Error   `json:"-"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Execution is scheduled immediately after creation, so a job is born
// processing; callers never observe a pre-execution state.
func newJob(req optimize.Request) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusProcessing,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// snapshot returns a detached copy safe to hand out. Result and Error are
// shared pointers but treated as immutable once set.
func (j *Job) snapshot() Job { return *j }
