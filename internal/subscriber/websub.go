// Package subscriber implements content-source subscriptions: the
// WebSub subscribe/unsubscribe handshake with hub-validated callbacks,
// signed update ingestion, and a cron-driven RSS polling fallback.
package subscriber

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/repost/internal/eventbus"
	"github.com/GoCodeAlone/repost/internal/logging"
	"github.com/GoCodeAlone/repost/internal/model"
	"github.com/GoCodeAlone/repost/internal/store"
)

// Config carries the WebSub handshake settings.
type Config struct {
	// CallbackURL is the externally reachable base for hub callbacks;
	// "/{site}/{id}" is appended per subscription.
	CallbackURL string
	// VerifyToken is the server-wide token hubs must echo on validation.
	VerifyToken string
	// ValidationInterval bounds how long Subscribe waits for the hub.
	ValidationInterval time.Duration
	// LeaseSeconds is requested from the hub on subscribe.
	LeaseSeconds int
}

// WebSub drives the subscribe/unsubscribe handshake and verifies signed
// update callbacks.
type WebSub struct {
	cfg    Config
	hubs   *store.Hubs
	subs   *store.Subscriptions
	feeds  *store.FeedXMLs
	key    *model.SecretKey
	bus    *eventbus.Bus
	client *http.Client
	logger logging.Logger

	mu      sync.Mutex
	pending map[int64]chan struct{}
}

// NewWebSub builds the WebSub service.
func NewWebSub(cfg Config, hubs *store.Hubs, subs *store.Subscriptions, feeds *store.FeedXMLs,
	key *model.SecretKey, bus *eventbus.Bus, logger logging.Logger) *WebSub {
	if cfg.ValidationInterval <= 0 {
		cfg.ValidationInterval = 30 * time.Second
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = 24 * 3600
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &WebSub{
		cfg:     cfg,
		hubs:    hubs,
		subs:    subs,
		feeds:   feeds,
		key:     key,
		bus:     bus,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
		pending: make(map[int64]chan struct{}),
	}
}

func (w *WebSub) callbackFor(site string, id int64) string {
	return strings.TrimRight(w.cfg.CallbackURL, "/") + "/" + site + "/" + strconv.FormatInt(id, 10)
}

// Subscribe persists the subscription, posts the handshake to the hub
// and waits for the validation callback. A hub that never calls back
// within the validation window rolls the subscription back.
func (w *WebSub) Subscribe(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	if _, err := ParserFor(sub.Site); err != nil {
		return nil, err
	}
	hub, err := w.hubs.Get(ctx, sub.HubID)
	if err != nil {
		return nil, fmt.Errorf("subscribing: %w", err)
	}

	secret := uuid.NewString()
	if err := sub.SetSecret(w.key, secret); err != nil {
		return nil, fmt.Errorf("subscribing: %w", err)
	}
	sub.Time = time.Now()
	sub.LeaseTime = sub.Time.Add(time.Duration(w.cfg.LeaseSeconds) * time.Second)
	persisted, err := w.subs.Create(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("subscribing: %w", err)
	}

	validated := w.park(persisted.ID)
	if err := w.postHandshake(ctx, hub.URL, persisted, "subscribe", secret); err != nil {
		w.rollback(ctx, persisted.ID)
		return nil, err
	}

	select {
	case <-validated:
		w.emit(ctx, eventbus.TopicSubscribeComplete, persisted)
		w.logger.Info("subscription validated", "subscription", persisted.ID, "site", persisted.Site)
		return persisted, nil
	case <-time.After(w.cfg.ValidationInterval):
		w.rollback(ctx, persisted.ID)
		return nil, fmt.Errorf("subscription %d: %w", persisted.ID, ErrSubscribeTimeout)
	case <-ctx.Done():
		w.rollback(ctx, persisted.ID)
		return nil, fmt.Errorf("subscribing: %w", ctx.Err())
	}
}

// Unsubscribe runs the symmetric handshake and deletes the subscription
// once the hub confirms.
func (w *WebSub) Unsubscribe(ctx context.Context, id int64) error {
	sub, err := w.subs.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("unsubscribing: %w", err)
	}
	hub, err := w.hubs.Get(ctx, sub.HubID)
	if err != nil {
		return fmt.Errorf("unsubscribing: %w", err)
	}
	secret, err := sub.Secret(w.key)
	if err != nil {
		return fmt.Errorf("unsubscribing: %w", err)
	}

	validated := w.park(sub.ID)
	if err := w.postHandshake(ctx, hub.URL, sub, "unsubscribe", secret); err != nil {
		w.unpark(sub.ID)
		return err
	}

	select {
	case <-validated:
	case <-time.After(w.cfg.ValidationInterval):
		// The hub is gone or unwilling; drop the subscription anyway so
		// the operator is not stuck with an undead record.
		w.logger.Warn("unsubscribe unvalidated, deleting locally", "subscription", sub.ID)
	case <-ctx.Done():
		w.unpark(sub.ID)
		return fmt.Errorf("unsubscribing: %w", ctx.Err())
	}
	if _, err := w.subs.Delete(ctx, sub.ID); err != nil {
		return fmt.Errorf("unsubscribing: %w", err)
	}
	w.emit(ctx, eventbus.TopicSubscribeComplete, sub)
	w.logger.Info("unsubscribed", "subscription", sub.ID, "site", sub.Site)
	return nil
}

// Validate answers a hub's GET validation callback. A matching verify
// token wakes the pending Subscribe/Unsubscribe waiter and echoes the
// challenge; anything else is rejected.
func (w *WebSub) Validate(id int64, verifyToken, challenge string) (string, error) {
	if subtleCompare(verifyToken, w.cfg.VerifyToken) {
		w.unparkSignal(id)
		return challenge, nil
	}
	return "", fmt.Errorf("subscription %d: %w", id, ErrInvalidToken)
}

// ReceiveUpdate verifies and ingests one signed update callback: the
// raw XML is persisted, a new feed event fires, and a derived download
// task is emitted for the download scheduler.
func (w *WebSub) ReceiveUpdate(ctx context.Context, site string, id int64, body []byte, signature string) error {
	sub, err := w.subs.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("receiving update: %w", err)
	}
	secret, err := sub.Secret(w.key)
	if err != nil {
		return fmt.Errorf("receiving update: %w", err)
	}
	if !VerifySignature(secret, body, signature) {
		return fmt.Errorf("subscription %d: %w", id, ErrSignatureInvalid)
	}
	return w.ingest(ctx, site, body)
}

// ingest runs the shared parse-and-emit path used by both the push
// callback and the RSS poller.
func (w *WebSub) ingest(ctx context.Context, site string, body []byte) error {
	parser, err := ParserFor(site)
	if err != nil {
		return err
	}
	feed, err := parser.ParseFeed(body)
	if err != nil {
		return err
	}
	feed.Site = site

	// The raw payload is persisted up front; the task link is backfilled
	// if and when the download scheduler derives a task from it.
	stored, err := w.feeds.Create(ctx, &model.FeedXML{XML: string(body)})
	if err != nil {
		return fmt.Errorf("persisting feed xml: %w", err)
	}
	w.watchForTask(stored.ID, feed.VideoURL)

	w.emit(ctx, eventbus.TopicNewFeed, feed)
	w.emit(ctx, eventbus.TopicChannelUpdate, feed)
	w.logger.Info("feed update ingested", "site", site, "video", feed.VideoID)
	return nil
}

// taskLinkWindow bounds how long an ingested payload watches for the
// download task derived from it. With auto-download off no task ever
// appears, and the watchers must not pile up.
const taskLinkWindow = time.Minute

// watchForTask backfills the stored payload's task id once the download
// scheduler persists the derived task. The listener removes itself on
// match or when the window closes.
func (w *WebSub) watchForTask(feedXMLID int64, videoURL string) {
	if w.bus == nil {
		return
	}
	var lid eventbus.ListenerID
	lid = w.bus.Bind(eventbus.TopicDownloadCreated, func(ctx context.Context, payload any) error {
		task, ok := payload.(*model.DownloadTask)
		if !ok || task.URL != videoURL {
			return nil
		}
		w.bus.Unbind(eventbus.TopicDownloadCreated, lid)
		if err := w.feeds.SetTask(ctx, feedXMLID, task.ID); err != nil {
			return fmt.Errorf("linking feed xml %d: %w", feedXMLID, err)
		}
		return nil
	})
	time.AfterFunc(taskLinkWindow, func() {
		w.bus.Unbind(eventbus.TopicDownloadCreated, lid)
	})
}

func (w *WebSub) postHandshake(ctx context.Context, hubURL string, sub *model.Subscription, mode, secret string) error {
	form := url.Values{
		"hub.callback":      {w.callbackFor(sub.Site, sub.ID)},
		"hub.topic":         {sub.TopicURI},
		"hub.mode":          {mode},
		"hub.verify":        {"async"},
		"hub.verify_token":  {w.cfg.VerifyToken},
		"hub.secret":        {secret},
		"hub.lease_numbers": {strconv.Itoa(w.cfg.LeaseSeconds)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building hub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to hub %s: %w", hubURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("hub %s rejected %s: status %d", hubURL, mode, resp.StatusCode)
	}
	return nil
}

func (w *WebSub) park(id int64) chan struct{} {
	ch := make(chan struct{})
	w.mu.Lock()
	w.pending[id] = ch
	w.mu.Unlock()
	return ch
}

func (w *WebSub) unpark(id int64) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func (w *WebSub) unparkSignal(id int64) {
	w.mu.Lock()
	ch, ok := w.pending[id]
	if ok {
		delete(w.pending, id)
	}
	w.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (w *WebSub) rollback(ctx context.Context, id int64) {
	w.unpark(id)
	if _, err := w.subs.Delete(ctx, id); err != nil {
		w.logger.Error("subscription rollback failed", "subscription", id, "error", err)
	}
}

func (w *WebSub) emit(ctx context.Context, topic string, payload any) {
	if w.bus != nil {
		w.bus.Emit(ctx, topic, payload)
	}
}

// VerifySignature checks an X-Hub-Signature header ("sha1=<hex>" or
// bare hex) against HMAC-SHA1 of the body in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha1=")
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtleCompare(signature, expected)
}

func subtleCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
