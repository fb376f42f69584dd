package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/repost/internal/logging"
	"github.com/GoCodeAlone/repost/internal/model"
	"github.com/GoCodeAlone/repost/internal/scheduler"
)

// errWorker fails immediately; it stands in when a factory receives a
// task variant it cannot serve.
type errWorker struct{ err error }

func (w errWorker) Start(context.Context) error { return w.err }
func (w errWorker) Pause() error                { return nil }
func (w errWorker) Resume() error               { return nil }
func (w errWorker) Cancel() error               { return nil }
func (w errWorker) Progress() float64           { return 0 }

// NewDownloadFactory builds yt-dlp workers for download tasks.
func NewDownloadFactory(policy CachePolicy, logger logging.Logger) scheduler.WorkerFactory {
	return func(item model.Item) scheduler.Worker {
		task, ok := item.(*model.DownloadTask)
		if !ok {
			return errWorker{err: fmt.Errorf("download worker got %s task", item.Kind())}
		}
		return NewYTDLPWorker(task, policy, logger)
	}
}

// NewUploadFactory builds command workers for upload tasks from a
// command template. Placeholders {file}, {dest} and {name} expand to
// the task's artifact path, destination and name, matching the way the
// original uploaders shell out to per-platform upload tools.
func NewUploadFactory(command string, args []string, logger logging.Logger) scheduler.WorkerFactory {
	return func(item model.Item) scheduler.Worker {
		task, ok := item.(*model.UploadTask)
		if !ok {
			return errWorker{err: fmt.Errorf("upload worker got %s task", item.Kind())}
		}
		expander := strings.NewReplacer(
			"{file}", task.FilePath(),
			"{dest}", task.Destination,
			"{name}", task.Name,
		)
		expanded := make([]string, len(args))
		for i, arg := range args {
			expanded[i] = expander.Replace(arg)
		}
		return NewCommandWorker(command, expanded, WithLogger(logger))
	}
}
