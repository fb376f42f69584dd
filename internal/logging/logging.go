// Package logging defines the structured logger contract shared by the
// service components. It follows the key-value pair convention of
// log/slog so the default implementation is a thin wrapper.
package logging

import "log/slog"

// Logger is the structured logging interface injected into components.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Slog wraps a *slog.Logger.
type Slog struct {
	L *slog.Logger
}

func (s Slog) Info(msg string, args ...any)  { s.L.Info(msg, args...) }
func (s Slog) Error(msg string, args ...any) { s.L.Error(msg, args...) }
func (s Slog) Warn(msg string, args ...any)  { s.L.Warn(msg, args...) }
func (s Slog) Debug(msg string, args ...any) { s.L.Debug(msg, args...) }

// Default returns a logger backed by slog.Default().
func Default() Logger {
	return Slog{L: slog.Default()}
}

// Nop discards everything. Useful in tests.
type Nop struct{}

func (Nop) Info(msg string, args ...any)  {}
func (Nop) Error(msg string, args ...any) {}
func (Nop) Warn(msg string, args ...any)  {}
func (Nop) Debug(msg string, args ...any) {}
