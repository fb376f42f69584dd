package store

import "errors"

var (
	ErrEmptyPath = errors.New("database path cannot be empty")
	// ErrNotFound is returned on any repository lookup miss.
	ErrNotFound = errors.New("record not found")
	// ErrWrongKind is returned when a repository receives a task of the
	// other direction.
	ErrWrongKind = errors.New("task kind does not match repository")
)
