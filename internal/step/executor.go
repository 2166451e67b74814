package step

import (
	"context"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

// Executor describes the contract the dispatcher needs from each pipeline
// step. Run processes every pending photo on the task, mutating the task's
// per-photo results in place, and reports the outcome. Implementations must
// be idempotent per photo: re-running over already-successful entries is a
// no-op.
type Executor interface {
	// Name identifies the step in logs and the audit trail.
	Name() string

	// FromStatus is the status whose tasks this step consumes.
	FromStatus() task.Status

	// ToStatus is the status a fully successful run transitions to.
	ToStatus() task.Status

	// Run executes the step against the task. A nil error with
	// Result.AllSucceeded false means some photos failed and the attempt
	// should be retried; a non-nil error means the attempt itself broke.
	Run(ctx context.Context, t *task.Task) (Result, error)

	// HealthCheck probes the step's external dependencies.
	HealthCheck(ctx context.Context) Health
}

// Result summarizes one step attempt.
type Result struct {
	Processed int
	Skipped   int
	Failed    int
	// FirstError carries the dominant failure for retry classification
	// when Failed > 0.
	FirstError error
}

// AllSucceeded reports whether every photo on the task is now in this step's
// success state.
func (r Result) AllSucceeded() bool {
	return r.Failed == 0
}
