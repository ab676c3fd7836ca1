package bus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// The engine publishes while holding its own lock, so Publish never blocks:
// a subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	dropped atomic.Int64
	logger  *zap.Logger
}

type subscription struct {
	namespaces []string
	ch         chan Event
}

func (s *subscription) matches(kind string) bool {
	return slices.ContainsFunc(s.namespaces, func(ns string) bool {
		return strings.HasPrefix(kind, ns)
	})
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[int]*subscription),
		logger: zap.NewNop(),
	}
}

// SetLogger makes the bus report dropped notices and auth changes.
func (b *Bus) SetLogger(l *zap.Logger) {
	b.mu.Lock()
	b.logger = l
	b.mu.Unlock()
}

// Publish stamps evt and hands it to every subscriber with a matching
// namespace prefix.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(evt.Kind) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			if mustDeliver(evt.Kind) {
				b.logger.Warn("subscriber buffer full, event dropped",
					zap.String("kind", evt.Kind),
					zap.Int64("dropped", b.dropped.Load()))
			}
		}
	}
}

// mustDeliver reports whether losing an event of kind leaves the user
// uninformed: notices are shown once and auth changes are never repeated.
func mustDeliver(kind string) bool {
	return strings.HasPrefix(kind, NamespaceNotice) || strings.HasPrefix(kind, NamespaceAuth)
}

// Notify publishes a notice event of the given kind.
func (b *Bus) Notify(kind, text string, err error) {
	b.Publish(Event{Kind: kind, Payload: Notice{Text: text, Err: err}})
}

// Subscribe returns a channel receiving events whose kind starts with
// namespace, and an unsubscribe function. An empty namespace matches all.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.SubscribeMany(bufSize, namespace)
}

// SubscribeMany is Subscribe for several namespaces sharing one channel, so
// the subscriber sees their events in publish order.
func (b *Bus) SubscribeMany(bufSize int, namespaces ...string) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespaces: slices.Clone(namespaces), ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
