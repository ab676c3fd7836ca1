package chat

import (
	"slices"
	"time"
)

// Directory is the ordered conversation list: most recent activity first,
// conversations without messages last in arrival order. It also owns the
// selection, since the selected conversation never carries unread messages.
//
// Directory is not safe for concurrent use; the sync engine serializes access.
type Directory struct {
	convs    []Conversation
	selected string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{}
}

// ReplaceAll installs a full snapshot from the server. Timestamps are
// normalized to UTC, duplicate ids keep their first occurrence, and the list
// is stably sorted by last activity. A selection absent from the snapshot is
// dropped.
func (d *Directory) ReplaceAll(list []Conversation) {
	seen := make(map[string]bool, len(list))
	convs := make([]Conversation, 0, len(list))
	for _, c := range list {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		convs = append(convs, normalizeConversation(c))
	}
	slices.SortStableFunc(convs, compareActivity)
	d.convs = convs

	if d.selected == "" {
		return
	}
	if i := d.index(d.selected); i >= 0 {
		d.convs[i].UnreadCount = 0
	} else {
		d.selected = ""
	}
}

// UpsertFromActivity records a message touching conversation id: it updates
// the preview, moves the conversation ahead of every conversation that is not
// more recent, and counts the message as unread when it comes from another
// participant and the conversation is not selected. Returns false when the
// conversation is unknown.
func (d *Directory) UpsertFromActivity(id, text string, at time.Time, fromOtherParticipant bool) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	c := d.convs[i]
	d.convs = slices.Delete(d.convs, i, i+1)

	ts := at.UTC()
	c.LastMessageText = text
	c.LastMessageAt = &ts
	if fromOtherParticipant && id != d.selected {
		c.UnreadCount++
	}
	d.insertByActivity(c)
	return true
}

// InsertNew adds a server-confirmed conversation. Duplicate deliveries are
// ignored; returns whether the conversation was inserted.
func (d *Directory) InsertNew(c Conversation) bool {
	if c.ID == "" || d.index(c.ID) >= 0 {
		return false
	}
	d.insertByActivity(normalizeConversation(c))
	return true
}

// ClearUnread zeroes the unread counter of a conversation.
func (d *Directory) ClearUnread(id string) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	d.convs[i].UnreadCount = 0
	return true
}

// Select makes id the selected conversation and clears its unread counter.
// An empty id clears the selection. Returns false for an unknown id, leaving
// the selection untouched.
func (d *Directory) Select(id string) bool {
	if id == "" {
		d.selected = ""
		return true
	}
	if !d.ClearUnread(id) {
		return false
	}
	d.selected = id
	return true
}

// Selected returns the selected conversation id, or "" when none is.
func (d *Directory) Selected() string {
	return d.selected
}

// Get returns a copy of the conversation with the given id.
func (d *Directory) Get(id string) (Conversation, bool) {
	i := d.index(id)
	if i < 0 {
		return Conversation{}, false
	}
	return cloneConversation(d.convs[i]), true
}

// Len returns the number of conversations.
func (d *Directory) Len() int {
	return len(d.convs)
}

// Snapshot returns a copy of the ordered list.
func (d *Directory) Snapshot() []Conversation {
	out := make([]Conversation, len(d.convs))
	for i, c := range d.convs {
		out[i] = cloneConversation(c)
	}
	return out
}

// Reset drops every conversation and the selection.
func (d *Directory) Reset() {
	d.convs = nil
	d.selected = ""
}

func (d *Directory) index(id string) int {
	return slices.IndexFunc(d.convs, func(c Conversation) bool { return c.ID == id })
}

// insertByActivity places c before the first conversation that is not more
// recent than c. Conversations without activity go last.
func (d *Directory) insertByActivity(c Conversation) {
	if c.LastMessageAt == nil {
		d.convs = append(d.convs, c)
		return
	}
	at := *c.LastMessageAt
	pos := slices.IndexFunc(d.convs, func(o Conversation) bool {
		return o.LastMessageAt == nil || !o.LastMessageAt.After(at)
	})
	if pos < 0 {
		pos = len(d.convs)
	}
	d.convs = slices.Insert(d.convs, pos, c)
}

// compareActivity orders by last activity descending; conversations without
// activity compare equal to each other and after everything else.
func compareActivity(a, b Conversation) int {
	switch {
	case a.LastMessageAt == nil && b.LastMessageAt == nil:
		return 0
	case a.LastMessageAt == nil:
		return 1
	case b.LastMessageAt == nil:
		return -1
	}
	return b.LastMessageAt.Compare(*a.LastMessageAt)
}

func normalizeConversation(c Conversation) Conversation {
	c = cloneConversation(c)
	c.LastMessageAt = normalizeTime(c.LastMessageAt)
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	return c
}

func cloneConversation(c Conversation) Conversation {
	c.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		c.LastMessageAt = &t
	}
	return c
}
