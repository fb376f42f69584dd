package subscriber

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/repost/internal/logging"
	"github.com/GoCodeAlone/repost/internal/model"
)

const maxFeedBody = 1 << 20

// RSS polls subscriptions that opted out of hub pushes. Each watched
// subscription becomes a cron "@every <interval>s" entry running the
// same parse-and-emit path as the push callback.
type RSS struct {
	websub *WebSub
	cron   *cron.Cron
	client *http.Client
	logger logging.Logger

	mu       sync.Mutex
	entries  map[int64]cron.EntryID
	lastSeen map[int64]string
}

// NewRSS builds the poller around the shared ingestion path.
func NewRSS(websub *WebSub, logger logging.Logger) *RSS {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &RSS{
		websub:   websub,
		cron:     cron.New(),
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
		entries:  make(map[int64]cron.EntryID),
		lastSeen: make(map[int64]string),
	}
}

// Start watches every persisted polling subscription and begins the
// cron loop.
func (r *RSS) Start(ctx context.Context) error {
	subs, err := r.websub.subs.GetMultiple(ctx)
	if err != nil {
		return fmt.Errorf("starting rss poller: %w", err)
	}
	for _, sub := range subs {
		if sub.PollingInterval <= 0 {
			continue
		}
		if err := r.Watch(sub); err != nil {
			return err
		}
	}
	r.cron.Start()
	r.logger.Info("rss poller started", "subscriptions", len(r.entries))
	return nil
}

// Watch registers one subscription's polling loop.
func (r *RSS) Watch(sub *model.Subscription) error {
	id, site, uri := sub.ID, sub.Site, sub.TopicURI
	entry, err := r.cron.AddFunc(fmt.Sprintf("@every %ds", sub.PollingInterval), func() {
		r.poll(id, site, uri)
	})
	if err != nil {
		return fmt.Errorf("watching subscription %d: %w", id, err)
	}
	r.mu.Lock()
	r.entries[id] = entry
	r.mu.Unlock()
	return nil
}

// Unwatch stops a subscription's polling loop.
func (r *RSS) Unwatch(id int64) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		delete(r.lastSeen, id)
	}
	r.mu.Unlock()
	if ok {
		r.cron.Remove(entry)
	}
}

// Stop halts the cron loop and waits for in-flight polls.
func (r *RSS) Stop(ctx context.Context) error {
	done := r.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping rss poller: %w", ctx.Err())
	}
}

func (r *RSS) poll(id int64, site, uri string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		r.logger.Error("rss poll request", "subscription", id, "error", err)
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("rss poll fetch", "subscription", id, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("rss poll bad status", "subscription", id, "status", resp.StatusCode)
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		r.logger.Error("rss poll read", "subscription", id, "error", err)
		return
	}

	parser, err := ParserFor(site)
	if err != nil {
		r.logger.Error("rss poll parser", "subscription", id, "error", err)
		return
	}
	feed, err := parser.ParseFeed(body)
	if err != nil {
		r.logger.Warn("rss poll parse", "subscription", id, "error", err)
		return
	}

	// A poll usually re-reads the entry it already delivered; only a
	// changed head entry is news.
	r.mu.Lock()
	seen := r.lastSeen[id] == feed.VideoID
	if !seen {
		r.lastSeen[id] = feed.VideoID
	}
	r.mu.Unlock()
	if seen {
		return
	}

	if err := r.websub.ingest(ctx, site, body); err != nil {
		r.logger.Error("rss poll ingest", "subscription", id, "error", err)
	}
}
