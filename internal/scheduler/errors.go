package scheduler

import "errors"

var (
	// ErrEditRejected is returned when a task is edited while a worker
	// is processing it.
	ErrEditRejected = errors.New("task cannot be edited in its current state")
	// ErrWrongPayload is returned when a bus listener receives a payload
	// of an unexpected type.
	ErrWrongPayload = errors.New("unexpected event payload type")
)
