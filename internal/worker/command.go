package worker

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"

	"github.com/GoCodeAlone/repost/internal/logging"
)

// ProgressParser extracts a completion fraction in [0,1] from one line
// of process output. ok is false for lines that carry no progress.
type ProgressParser func(line string) (fraction float64, ok bool)

// CommandWorker runs one external command per task. Pause and Resume
// map to SIGSTOP/SIGCONT, so a paused download keeps its connection
// state; Cancel kills the process, which also works while stopped.
type CommandWorker struct {
	path   string
	args   []string
	cache  CachePolicy
	need   int64
	parse  ProgressParser
	logger logging.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	progress  float64
	cancelled bool
}

// CommandOption tweaks a CommandWorker.
type CommandOption func(*CommandWorker)

// WithCachePolicy gates Start on cache space for need bytes.
func WithCachePolicy(policy CachePolicy, need int64) CommandOption {
	return func(w *CommandWorker) {
		w.cache = policy
		w.need = need
	}
}

// WithProgressParser reads progress off the command's stdout.
func WithProgressParser(parse ProgressParser) CommandOption {
	return func(w *CommandWorker) { w.parse = parse }
}

// WithLogger sets the worker's logger.
func WithLogger(logger logging.Logger) CommandOption {
	return func(w *CommandWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewCommandWorker builds a worker that will run path with args.
func NewCommandWorker(path string, args []string, opts ...CommandOption) *CommandWorker {
	w := &CommandWorker{path: path, args: args, logger: logging.Nop{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the process and blocks until it exits. It returns
// ErrCancelled when Cancel killed it, or the exit error otherwise.
func (w *CommandWorker) Start(ctx context.Context) error {
	if err := w.cache.WaitForSpace(ctx, w.need); err != nil {
		return err
	}

	cmd := exec.Command(w.path, w.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("wiring %s stdout: %w", w.path, err)
	}
	cmd.Stderr = cmd.Stdout

	w.mu.Lock()
	if w.cancelled {
		w.mu.Unlock()
		return ErrCancelled
	}
	if err := cmd.Start(); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("starting %s: %w", w.path, err)
	}
	w.cmd = cmd
	w.mu.Unlock()
	w.logger.Debug("command started", "path", w.path, "pid", cmd.Process.Pid)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if w.parse == nil {
				continue
			}
			if fraction, ok := w.parse(scanner.Text()); ok {
				w.mu.Lock()
				w.progress = fraction
				w.mu.Unlock()
			}
		}
	}()

	// Kill on context cancellation; shutdown must not orphan processes.
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = w.signal(syscall.SIGKILL)
		case <-ctxDone:
		}
	}()

	<-done
	waitErr := cmd.Wait()
	close(ctxDone)

	w.mu.Lock()
	cancelled := w.cancelled
	w.mu.Unlock()
	if cancelled {
		return ErrCancelled
	}
	if ctx.Err() != nil {
		return fmt.Errorf("running %s: %w", w.path, ctx.Err())
	}
	if waitErr != nil {
		return fmt.Errorf("running %s: %w", w.path, waitErr)
	}
	w.mu.Lock()
	w.progress = 1
	w.mu.Unlock()
	return nil
}

// Pause stops the process with SIGSTOP.
func (w *CommandWorker) Pause() error {
	return w.signal(syscall.SIGSTOP)
}

// Resume continues a stopped process with SIGCONT.
func (w *CommandWorker) Resume() error {
	return w.signal(syscall.SIGCONT)
}

// Cancel kills the process. A worker cancelled before Start refuses to
// launch at all. SIGKILL is delivered even to a SIGSTOP'd process, so
// cancelling a paused worker unblocks its pending Start.
func (w *CommandWorker) Cancel() error {
	w.mu.Lock()
	w.cancelled = true
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("killing %s: %w", w.path, err)
	}
	return nil
}

// Progress is the last fraction parsed from the process output.
func (w *CommandWorker) Progress() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

func (w *CommandWorker) signal(sig syscall.Signal) error {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return ErrNotRunning
	}
	if err := cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("signalling %s with %s: %w", w.path, sig, err)
	}
	return nil
}
