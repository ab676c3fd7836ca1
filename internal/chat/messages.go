package chat

import (
	"slices"
	"time"
)

// MessageStore holds the history of the conversation being viewed, ordered by
// creation time with arrival order breaking ties. Optimistic entries live in
// the same list as confirmed ones; at most one entry exists per logical
// message.
//
// Confirmed histories of conversations the user switched away from are kept
// in a cache until something touches that conversation again. Sends still
// waiting for their echo are parked per conversation and come back when the
// user returns.
//
// MessageStore is not safe for concurrent use; the sync engine serializes access.
type MessageStore struct {
	conversationID string
	loaded         bool
	msgs           []Message
	cache          map[string][]Message
	parked         map[string][]Message
}

// NewMessageStore creates an empty store viewing no conversation.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		cache:  make(map[string][]Message),
		parked: make(map[string][]Message),
	}
}

// ConversationID returns the conversation being viewed.
func (s *MessageStore) ConversationID() string {
	return s.conversationID
}

// Loaded reports whether the viewed history came from the server or the cache.
func (s *MessageStore) Loaded() bool {
	return s.loaded
}

// Open switches the store to conversationID. The loaded history of the
// previous conversation is cached and its pending sends are parked; a cached
// history and the parked sends of the new one are restored. Returns true
// when the history came from the cache.
func (s *MessageStore) Open(conversationID string) bool {
	if s.conversationID == conversationID {
		return s.loaded
	}
	if s.conversationID != "" {
		if s.loaded {
			s.cache[s.conversationID] = confirmedOnly(s.msgs)
		}
		if pending := pendingOnly(s.msgs); len(pending) > 0 {
			s.parked[s.conversationID] = pending
		}
	}
	s.conversationID = conversationID
	s.msgs = nil
	s.loaded = false
	if conversationID == "" {
		return false
	}

	cached, ok := s.cache[conversationID]
	if ok {
		s.msgs = slices.Clone(cached)
		s.loaded = true
	}
	for _, m := range s.parked[conversationID] {
		s.insertOrdered(m)
	}
	delete(s.parked, conversationID)
	return ok
}

// Invalidate drops the cached history of a conversation.
func (s *MessageStore) Invalidate(conversationID string) {
	delete(s.cache, conversationID)
}

// LoadHistory replaces the viewed history. Responses for any conversation
// other than the one being viewed are stale and discarded. Pending entries
// the history does not account for are kept. Returns whether it applied.
func (s *MessageStore) LoadHistory(conversationID string, list []Message) bool {
	if conversationID == "" || conversationID != s.conversationID {
		return false
	}
	history := make([]Message, 0, len(list))
	seen := make(map[string]bool, len(list))
	echoed := make(map[string]bool)
	for _, m := range list {
		if m.ConversationID != "" && m.ConversationID != conversationID {
			continue
		}
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if m.TempID != "" {
			echoed[m.TempID] = true
		}
		history = append(history, normalizeMessage(m, conversationID))
	}
	slices.SortStableFunc(history, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	pending := s.msgs
	s.msgs = history
	for _, m := range pending {
		if m.Pending() && !echoed[m.TempID] {
			s.insertOrdered(m)
		}
	}
	s.loaded = true
	return true
}

// AppendOptimistic shows a message before the server has confirmed it.
// Returns false when conversationID is not the one being viewed.
func (s *MessageStore) AppendOptimistic(tempID, conversationID, senderID, content string, at time.Time) bool {
	if conversationID == "" || conversationID != s.conversationID {
		return false
	}
	s.insertOrdered(Message{
		TempID:         tempID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      at.UTC(),
		Status:         StatusSent,
	})
	return true
}

// Reconcile merges the authoritative form of a message sent by this client.
// The pending entry correlated by tempID is replaced in place; when the
// confirmed message is already listed the pending entry is dropped instead.
// Without a pending entry the message is applied like any incoming one.
// An echo for a conversation not being viewed settles its parked send.
// Returns whether the viewed history changed.
func (s *MessageStore) Reconcile(tempID string, m Message) bool {
	if m.ConversationID == "" {
		return false
	}
	if m.ConversationID != s.conversationID {
		s.unpark(m.ConversationID, tempID)
		return false
	}
	m = normalizeMessage(m, s.conversationID)
	pending := -1
	if tempID != "" {
		pending = slices.IndexFunc(s.msgs, func(e Message) bool {
			return e.Pending() && e.TempID == tempID
		})
	}
	if pending < 0 {
		return s.ApplyIncoming(m)
	}
	if confirmed := s.indexByID(m.ID); confirmed >= 0 {
		s.msgs = slices.Delete(s.msgs, pending, pending+1)
		return true
	}
	m.TempID = tempID
	s.msgs[pending] = m
	if !s.orderedAround(pending) {
		// the server clock put it past a confirmed neighbour
		s.msgs = slices.Delete(s.msgs, pending, pending+1)
		s.insertOrdered(m)
	}
	return true
}

// orderedAround reports whether msgs[i] sits between its nearest confirmed
// neighbours by creation time. Pending neighbours carry the client clock and
// are not compared.
func (s *MessageStore) orderedAround(i int) bool {
	at := s.msgs[i].CreatedAt
	for j := i - 1; j >= 0; j-- {
		if !s.msgs[j].Pending() {
			if s.msgs[j].CreatedAt.After(at) {
				return false
			}
			break
		}
	}
	for j := i + 1; j < len(s.msgs); j++ {
		if !s.msgs[j].Pending() {
			return !s.msgs[j].CreatedAt.Before(at)
		}
	}
	return true
}

// ApplyIncoming adds an authoritative message to the viewed history. Messages
// for other conversations are dropped; a redelivered message replaces its
// earlier copy. Returns whether the viewed history changed.
func (s *MessageStore) ApplyIncoming(m Message) bool {
	if m.ConversationID == "" || m.ConversationID != s.conversationID || m.ID == "" {
		return false
	}
	m = normalizeMessage(m, s.conversationID)
	if i := s.indexByID(m.ID); i >= 0 {
		if m.TempID == "" {
			m.TempID = s.msgs[i].TempID
		}
		s.msgs[i] = m
		return true
	}
	s.insertOrdered(m)
	return true
}

// MarkSentByOthersAsRead applies a read receipt from readerID: every message
// selfID sent in the conversation becomes read. Receipts from selfID and
// messages from anybody else are left alone. Returns the number of messages
// flipped.
func (s *MessageStore) MarkSentByOthersAsRead(conversationID, readerID, selfID string) int {
	if conversationID != s.conversationID || readerID == selfID || selfID == "" {
		return 0
	}
	n := 0
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.SenderID == selfID && m.SenderID != readerID && m.Status != StatusRead {
			m.Status = StatusRead
			n++
		}
	}
	return n
}

// Rollback removes the pending entry of a send that never reached the
// server, whether it is viewed or parked. Returns whether the viewed history
// changed.
func (s *MessageStore) Rollback(tempID string) bool {
	i := slices.IndexFunc(s.msgs, func(e Message) bool {
		return e.Pending() && e.TempID == tempID
	})
	if i < 0 {
		for conversationID := range s.parked {
			s.unpark(conversationID, tempID)
		}
		return false
	}
	s.msgs = slices.Delete(s.msgs, i, i+1)
	return true
}

// Parked returns the pending sends kept for a conversation not being viewed.
func (s *MessageStore) Parked(conversationID string) []Message {
	return slices.Clone(s.parked[conversationID])
}

func (s *MessageStore) unpark(conversationID, tempID string) {
	if tempID == "" {
		return
	}
	rest := slices.DeleteFunc(s.parked[conversationID], func(e Message) bool {
		return e.TempID == tempID
	})
	if len(rest) == 0 {
		delete(s.parked, conversationID)
		return
	}
	s.parked[conversationID] = rest
}

// Snapshot returns a copy of the viewed history.
func (s *MessageStore) Snapshot() []Message {
	return slices.Clone(s.msgs)
}

// Len returns the number of viewed messages.
func (s *MessageStore) Len() int {
	return len(s.msgs)
}

// Reset drops the viewed history, the viewed conversation, the cache and
// every parked send.
func (s *MessageStore) Reset() {
	s.conversationID = ""
	s.loaded = false
	s.msgs = nil
	clear(s.cache)
	clear(s.parked)
}

func (s *MessageStore) indexByID(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.msgs, func(e Message) bool { return e.ID == id })
}

// insertOrdered places m after every message created at or before it.
func (s *MessageStore) insertOrdered(m Message) {
	pos := slices.IndexFunc(s.msgs, func(e Message) bool {
		return e.CreatedAt.After(m.CreatedAt)
	})
	if pos < 0 {
		s.msgs = append(s.msgs, m)
		return
	}
	s.msgs = slices.Insert(s.msgs, pos, m)
}

func normalizeMessage(m Message, conversationID string) Message {
	if m.ConversationID == "" {
		m.ConversationID = conversationID
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m
}

func confirmedOnly(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Pending() {
			out = append(out, m)
		}
	}
	return out
}

func pendingOnly(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Pending() {
			out = append(out, m)
		}
	}
	return out
}
