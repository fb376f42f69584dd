package worker

import "errors"

var (
	// ErrCancelled is returned by Start after Cancel killed the process.
	ErrCancelled = errors.New("worker cancelled")
	// ErrNotRunning is returned when a signal is requested before the
	// process exists.
	ErrNotRunning = errors.New("worker process not running")
)
