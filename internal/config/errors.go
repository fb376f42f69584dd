package config

import "errors"

var (
	// ErrUnknownFormat means the config file extension is not supported.
	ErrUnknownFormat = errors.New("unsupported config format")
	// ErrMissingKey means a required key is absent.
	ErrMissingKey = errors.New("missing config key")
	// ErrInvalidValue means a key holds a value the service cannot use.
	ErrInvalidValue = errors.New("invalid config value")
)
