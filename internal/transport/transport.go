// Package transport carries the chat protocol between the client engine and
// the relay: lifecycle and push events in, fire-and-forget commands out.
package transport

import (
	"context"
	"errors"

	"github.com/ridelink/chatsync/internal/auth"
	"github.com/ridelink/chatsync/internal/chat"
)

// Kind identifies an event delivered by the transport.
type Kind string

const (
	KindConnect              Kind = "connect"
	KindDisconnect           Kind = "disconnect"
	KindConnectError         Kind = "connect_error"
	KindConversations        Kind = "conversations"
	KindNewConversation      Kind = "newConversation"
	KindConversationMessages Kind = "conversationMessages"
	KindMessage              Kind = "message"
	KindMessagesRead         Kind = "messagesRead"
	KindError                Kind = "error"
)

// ReasonClientClose is the disconnect reason of a session closed by this client.
const ReasonClientClose = "client disconnect"

// ErrNotConnected is returned by commands issued while no session is up.
var ErrNotConnected = errors.New("transport: not connected")

// Event is a single delivery from the transport. Which fields are set
// depends on Kind.
type Event struct {
	Kind           Kind
	Reason         string
	UserID         string
	ConversationID string
	ReaderID       string
	Conversations  []chat.Conversation
	Conversation   chat.Conversation
	Messages       []chat.Message
	Message        chat.Message
}

// Handler receives events in delivery order, one at a time.
type Handler func(Event)

// Conn is one session with the relay. Commands return once the request is
// written; replies arrive later as events.
type Conn interface {
	GetConversations(ctx context.Context) error
	GetConversationMessages(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, conversationID, content, tempID string) error
	CreateConversation(ctx context.Context, participantIDs []string, title string) error
	MarkMessagesAsRead(ctx context.Context, conversationID string) error
	Close() error
}

// Dialer opens sessions. Dial must not block on the network: the outcome of
// the handshake is reported to h as a connect or connect_error event.
type Dialer interface {
	Dial(ctx context.Context, creds auth.Credentials, h Handler) (Conn, error)
}
