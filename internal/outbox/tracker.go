// Package outbox tracks optimistic sends from the moment they are appended
// locally until the relay echoes them back or the transport rejects them.
package outbox

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle position of an outgoing message.
type State string

const (
	StateSending State = "sending"
	StateSent    State = "sent"
	StateFailed  State = "failed"
)

// Entry is one outgoing message keyed by its temporary id.
type Entry struct {
	TempID         string
	ConversationID string
	Content        string
	State          State
	StartedAt      time.Time
	Err            error
}

// Tracker holds in-flight sends. Finished entries are removed and returned
// to the caller so the final state can be reported.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	logger  *zap.Logger
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		entries: make(map[string]*Entry),
		logger:  logger,
		now:     time.Now,
	}
}

// Begin registers a send. A tempID already in flight is left untouched and
// false is returned.
func (t *Tracker) Begin(tempID, conversationID, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[tempID]; ok {
		return false
	}
	t.entries[tempID] = &Entry{
		TempID:         tempID,
		ConversationID: conversationID,
		Content:        content,
		State:          StateSending,
		StartedAt:      t.now(),
	}
	t.order = append(t.order, tempID)
	return true
}

// Ack completes a send once the relay echoed it back.
func (t *Tracker) Ack(tempID, serverID string) (Entry, bool) {
	e, ok := t.finish(tempID, StateSent, nil)
	if ok {
		t.logger.Info("message sent",
			zap.String("temp_id", tempID),
			zap.String("server_id", serverID),
			zap.Duration("latency", t.now().Sub(e.StartedAt)))
	}
	return e, ok
}

// Fail completes a send the transport could not deliver.
func (t *Tracker) Fail(tempID string, err error) (Entry, bool) {
	e, ok := t.finish(tempID, StateFailed, err)
	if ok {
		t.logger.Error("failed to send message", zap.Error(err), zap.String("temp_id", tempID))
	}
	return e, ok
}

func (t *Tracker) finish(tempID string, s State, err error) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[tempID]
	if !ok {
		return Entry{}, false
	}
	delete(t.entries, tempID)
	for i, id := range t.order {
		if id == tempID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	e.State = s
	e.Err = err
	return *e, true
}

// Get returns the in-flight entry for tempID.
func (t *Tracker) Get(tempID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[tempID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Pending lists in-flight sends, oldest first.
func (t *Tracker) Pending() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.entries[id])
	}
	return out
}

// Len returns the number of sends in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear abandons every in-flight send and returns how many were dropped.
func (t *Tracker) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.entries)
	if n > 0 {
		t.logger.Warn("abandoning in-flight sends", zap.Int("count", n))
	}
	t.entries = make(map[string]*Entry)
	t.order = nil
	return n
}
