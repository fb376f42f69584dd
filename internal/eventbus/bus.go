// Package eventbus is the in-process pub/sub backbone that couples user
// actions and feed ingestion to the schedulers. Topics are named, each
// carries a single payload type by convention, and delivery is
// asynchronous best-effort: a listener failure is converted into an
// emission on the error topic and never aborts the other listeners.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler processes one delivery on a topic.
type Handler func(ctx context.Context, payload any) error

// ListenerID identifies a binding for later removal.
type ListenerID string

// Copier is implemented by payloads with reference semantics. The bus
// copies such payloads once per listener so mutations do not leak back to
// the emitter or to sibling listeners.
type Copier interface {
	Copy() any
}

// ErrorEvent is the payload fanned out on TopicError when a listener
// returns an error or panics.
type ErrorEvent struct {
	Topic   string
	Err     error
	Payload any
}

type listener struct {
	id   ListenerID
	fn   Handler
	once bool
}

// Bus is a named-topic in-process event bus with asynchronous fan-out.
type Bus struct {
	mu           sync.Mutex
	listeners    map[string][]*listener
	history      map[string][]Record
	historyLimit int
	wg           sync.WaitGroup
	closed       bool
	logger       *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistoryLimit bounds the per-topic emission history.
func WithHistoryLimit(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historyLimit = n
		}
	}
}

// WithLogger sets the logger used for listener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bus ready for binding and emission.
func New(opts ...Option) *Bus {
	b := &Bus{
		listeners:    make(map[string][]*listener),
		history:      make(map[string][]Record),
		historyLimit: 256,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind registers a listener on a topic. Listeners on one topic are
// dispatched in registration order.
func (b *Bus) Bind(topic string, fn Handler) ListenerID {
	return b.bind(topic, fn, false)
}

// BindOnce registers a listener that fires at most once and is then
// removed.
func (b *Bus) BindOnce(topic string, fn Handler) ListenerID {
	return b.bind(topic, fn, true)
}

func (b *Bus) bind(topic string, fn Handler, once bool) ListenerID {
	l := &listener{id: ListenerID(uuid.New().String()), fn: fn, once: once}
	b.mu.Lock()
	b.listeners[topic] = append(b.listeners[topic], l)
	b.mu.Unlock()
	return l.id
}

// Unbind removes a listener from a topic. Unknown ids are ignored.
func (b *Bus) Unbind(topic string, id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	listeners := b.listeners[topic]
	for i, l := range listeners {
		if l.id == id {
			b.listeners[topic] = append(listeners[:i], listeners[i+1:]...)
			return
		}
	}
}

// Emit delivers the payload to every listener bound to the topic. Each
// listener runs on its own goroutine; the caller does not wait for
// completion. One-shot listeners are unbound before dispatch. Delivery
// contexts keep ctx's values but not its cancellation, so listeners are
// not aborted when the emitter (an HTTP handler, typically) returns.
func (b *Bus) Emit(ctx context.Context, topic string, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.appendHistory(topic, b.copyPayload(payload))
	snapshot := make([]*listener, len(b.listeners[topic]))
	copy(snapshot, b.listeners[topic])
	remaining := b.listeners[topic][:0]
	for _, l := range b.listeners[topic] {
		if !l.once {
			remaining = append(remaining, l)
		}
	}
	b.listeners[topic] = remaining
	b.wg.Add(len(snapshot))
	b.mu.Unlock()

	dctx := context.WithoutCancel(ctx)
	for _, l := range snapshot {
		go b.deliver(dctx, topic, l, b.copyPayload(payload))
	}
}

// EmitError fans out on the implicit error topic.
func (b *Bus) EmitError(ctx context.Context, err error, topic string, payload any) {
	b.Emit(ctx, TopicError, &ErrorEvent{Topic: topic, Err: err, Payload: payload})
}

func (b *Bus) deliver(ctx context.Context, topic string, l *listener, payload any) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrListenerPanic, r)
			b.logger.Error("event listener panicked", "topic", topic, "panic", r)
			if topic != TopicError {
				b.EmitError(ctx, err, topic, payload)
			}
		}
	}()
	if err := l.fn(ctx, payload); err != nil {
		b.logger.Error("event listener failed", "topic", topic, "error", err)
		if topic != TopicError {
			b.EmitError(ctx, err, topic, payload)
		}
	}
}

func (b *Bus) copyPayload(payload any) any {
	if c, ok := payload.(Copier); ok {
		return c.Copy()
	}
	return payload
}

// Drain blocks until all in-flight deliveries have completed or the
// context expires. Listeners bound during the drain are included.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining event bus: %w", ctx.Err())
	}
}

// Close stops accepting emissions and waits for in-flight deliveries.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.Drain(ctx)
}

// Record is one remembered emission.
type Record struct {
	ID      string
	Topic   string
	Payload any
	At      time.Time
}

func (b *Bus) appendHistory(topic string, payload any) {
	records := append(b.history[topic], Record{
		ID:      uuid.New().String(),
		Topic:   topic,
		Payload: payload,
		At:      time.Now(),
	})
	if len(records) > b.historyLimit {
		records = records[len(records)-b.historyLimit:]
	}
	b.history[topic] = records
}

// History returns the remembered emissions for a topic, oldest first.
func (b *Bus) History(topic string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.history[topic]))
	copy(out, b.history[topic])
	return out
}

// RecentRecords returns the most recent emissions across all topics,
// newest last, capped at limit.
func (b *Bus) RecentRecords(limit int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	var all []Record
	for _, records := range b.history {
		all = append(all, records...)
	}
	sortRecordsByTime(all)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

func sortRecordsByTime(records []Record) {
	// Insertion sort; histories are small and mostly ordered already.
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].At.Before(records[j-1].At); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}
