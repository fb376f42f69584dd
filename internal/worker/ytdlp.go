package worker

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/repost/internal/logging"
	"github.com/GoCodeAlone/repost/internal/model"
)

const defaultFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/bestvideo+bestaudio"

// YTDLPArgs builds the yt-dlp argument list for a download task.
// --newline keeps the progress output line-buffered so the parser sees
// every update.
func YTDLPArgs(task *model.DownloadTask, cachePath string) []string {
	args := []string{"--newline", "--rm-cache-dir"}
	if task.WithThumbnail {
		args = append(args, "--write-thumbnail")
	}
	if task.WithDescription {
		args = append(args, "--write-description")
	}
	if task.WithSubtitles {
		args = append(args, "--write-subs")
	}
	format := task.Format
	if format == "" {
		format = defaultFormat
	}
	ext := task.Extension
	if ext == "" {
		ext = ".mp4"
	}
	args = append(args,
		"-f", format,
		"-o", filepath.Join(cachePath, task.Name+ext),
		task.URL,
	)
	return args
}

// ParseYTDLPProgress reads lines like
// "[download]  42.7% of 120.00MiB at 4.00MiB/s" and returns the
// completion fraction.
func ParseYTDLPProgress(line string) (float64, bool) {
	if !strings.HasPrefix(line, "[download]") {
		return 0, false
	}
	for _, field := range strings.Fields(line)[1:] {
		if !strings.HasSuffix(field, "%") {
			continue
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(field, "%"), 64)
		if err != nil {
			return 0, false
		}
		return pct / 100, true
	}
	return 0, false
}

// NewYTDLPWorker builds the command worker that downloads one task into
// the cache.
func NewYTDLPWorker(task *model.DownloadTask, policy CachePolicy, logger logging.Logger) *CommandWorker {
	return NewCommandWorker("yt-dlp", YTDLPArgs(task, policy.Path),
		WithCachePolicy(policy, 0),
		WithProgressParser(ParseYTDLPProgress),
		WithLogger(logger),
	)
}
