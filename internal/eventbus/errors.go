package eventbus

import "errors"

var (
	ErrListenerPanic = errors.New("event listener panicked")
)
