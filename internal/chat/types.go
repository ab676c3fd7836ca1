// Package chat holds the conversation directory and the message store of the
// chat client, plus the domain types shared with the wire protocol.
package chat

import (
	"slices"
	"strings"
	"time"
)

// TempIDPrefix marks client-generated message ids. Server ids never carry it.
const TempIDPrefix = "tmp-"

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Conversation is a message thread between a set of participants.
type Conversation struct {
	ID              string     `json:"id"`
	ParticipantIDs  []string   `json:"participantIds"`
	Title           string     `json:"title,omitempty"`
	LastMessageText string     `json:"lastMessageText,omitempty"`
	LastMessageAt   *time.Time `json:"lastMessageAt"`
	UnreadCount     int        `json:"unreadCount"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.ParticipantIDs, userID)
}

// Message is a single chat message.
//
// A message sent by this client lives first as a pending entry (ID empty,
// TempID set) and becomes confirmed once the server echo carrying the same
// TempID is reconciled into it.
type Message struct {
	ID             string        `json:"id,omitempty"`
	TempID         string        `json:"tempId,omitempty"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"createdAt"`
	Status         MessageStatus `json:"status"`
}

// Pending reports whether the message still waits for its server id.
func (m Message) Pending() bool {
	return m.ID == ""
}

// Key returns the identity the message currently lives under.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// IsTempID reports whether id was generated locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// ParticipantKey returns an order-independent key for a participant set.
func ParticipantKey(ids []string) string {
	set := NormalizeParticipants(ids)
	return strings.Join(set, "\x00")
}

// NormalizeParticipants returns the sorted, de-duplicated, non-empty ids.
func NormalizeParticipants(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
