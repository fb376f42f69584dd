package gate

import "errors"

var (
	ErrInvalidCapacity  = errors.New("gate capacity must be positive")
	ErrResizeInProgress = errors.New("gate resize already in progress")
)
