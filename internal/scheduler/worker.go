package scheduler

import (
	"context"

	"github.com/GoCodeAlone/repost/internal/model"
)

// Worker performs the actual I/O for one task. Implementations live
// outside the scheduler (site downloaders, platform uploaders).
//
// Start blocks until the work is done and returns the failure, if any.
// Pause, Resume and Cancel are idempotent. Cancel must be effective while
// Start is in flight, including on a paused worker, and must unblock the
// pending Start call. A worker that was parked while paused keeps its
// Start call pending; Resume lets it continue.
type Worker interface {
	Start(ctx context.Context) error
	Pause() error
	Resume() error
	Cancel() error
	Progress() float64
}

// WorkerFactory builds the worker for a task. Variant-specific task
// attributes are forwarded untouched.
type WorkerFactory func(task model.Item) Worker
