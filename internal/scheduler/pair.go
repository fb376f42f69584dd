package scheduler

import "context"

// Pair bundles the download and upload schedulers, which always start
// and stop together.
type Pair struct {
	Download *Scheduler
	Upload   *Scheduler
}

// Load replays both schedulers' persisted tasks.
func (p *Pair) Load(ctx context.Context) error {
	if err := p.Download.LoadTasks(ctx); err != nil {
		return err
	}
	return p.Upload.LoadTasks(ctx)
}

// Run starts both dispatcher loops and blocks until ctx is cancelled.
func (p *Pair) Run(ctx context.Context) error {
	errs := make(chan error, 2)
	go func() { errs <- p.Download.Run(ctx) }()
	go func() { errs <- p.Upload.Run(ctx) }()
	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stop shuts both schedulers down.
func (p *Pair) Stop(ctx context.Context) error {
	if err := p.Download.Stop(ctx); err != nil {
		return err
	}
	return p.Upload.Stop(ctx)
}
