// Package worker provides the concrete task workers driven by the
// schedulers: an external-command worker with pause/resume/cancel via
// process signals, a yt-dlp download worker built on it, and a cache
// space policy that gates downloads on available disk budget.
package worker

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"
)

// CachePolicy bounds the on-disk cache a download worker writes into.
// A zero MaxSize disables the gate entirely.
type CachePolicy struct {
	Path          string
	MaxSize       int64
	CheckInterval time.Duration
}

// Usage is the total size in bytes of all files under the cache path.
func (p CachePolicy) Usage() (int64, error) {
	var total int64
	err := filepath.WalkDir(p.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measuring cache %s: %w", p.Path, err)
	}
	return total, nil
}

// WaitForSpace blocks until the cache has room for need more bytes,
// polling at CheckInterval. Unknown task sizes (need <= 0) pass
// immediately, as does an unbounded cache.
func (p CachePolicy) WaitForSpace(ctx context.Context, need int64) error {
	if p.MaxSize <= 0 || need <= 0 {
		return nil
	}
	interval := p.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	for {
		used, err := p.Usage()
		if err != nil {
			return err
		}
		if p.MaxSize-used >= need {
			return nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return fmt.Errorf("waiting for cache space: %w", ctx.Err())
		}
	}
}
