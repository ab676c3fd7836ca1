package transport

import (
	"encoding/json"
	"fmt"

	"github.com/ridelink/chatsync/internal/chat"
)

// Frame types on the wire. Server frames first, then client commands.
const (
	FrameConnected            = "connected"
	FrameConversations        = "conversations"
	FrameNewConversation      = "newConversation"
	FrameConversationMessages = "conversationMessages"
	FrameMessage              = "message"
	FrameMessagesRead         = "messagesRead"
	FrameError                = "error"

	CmdGetConversations        = "getConversations"
	CmdGetConversationMessages = "getConversationMessages"
	CmdSendMessage             = "sendMessage"
	CmdCreateConversation      = "createConversation"
	CmdMarkMessagesAsRead      = "markMessagesAsRead"
)

// Envelope is the wire format of every frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectedPayload confirms the handshake and names the authenticated user.
type ConnectedPayload struct {
	UserID string `json:"userId"`
}

// ConversationsPayload is the full directory snapshot.
type ConversationsPayload struct {
	Conversations []chat.Conversation `json:"conversations"`
}

// ConversationMessagesPayload is a history response.
type ConversationMessagesPayload struct {
	ConversationID string         `json:"conversationId"`
	Messages       []chat.Message `json:"messages"`
}

// MessagesReadPayload is a read receipt broadcast.
type MessagesReadPayload struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

// ErrorPayload is a server-side error notice.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ConversationRef addresses a single conversation in a command.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload is the sendMessage command. TempID comes back on the
// echoed message.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	TempID         string `json:"tempId"`
}

// CreateConversationPayload is the createConversation command.
type CreateConversationPayload struct {
	ParticipantIDs []string `json:"participantIds"`
	Title          string   `json:"title,omitempty"`
}

// NewEnvelope marshals payload into a frame of the given type.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	env := Envelope{Type: typ}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	env.Payload = raw
	return env, nil
}

// DecodeEvent turns a server frame into an Event.
func DecodeEvent(env Envelope) (Event, error) {
	var ev Event
	var err error
	switch env.Type {
	case FrameConnected:
		var p ConnectedPayload
		err = decodePayload(env, &p)
		ev = Event{Kind: KindConnect, UserID: p.UserID}
	case FrameConversations:
		var p ConversationsPayload
		err = decodePayload(env, &p)
		ev = Event{Kind: KindConversations, Conversations: p.Conversations}
	case FrameNewConversation:
		var c chat.Conversation
		err = decodePayload(env, &c)
		ev = Event{Kind: KindNewConversation, Conversation: c, ConversationID: c.ID}
	case FrameConversationMessages:
		var p ConversationMessagesPayload
		err = decodePayload(env, &p)
		ev = Event{Kind: KindConversationMessages, ConversationID: p.ConversationID, Messages: p.Messages}
	case FrameMessage:
		var m chat.Message
		err = decodePayload(env, &m)
		ev = Event{Kind: KindMessage, Message: m, ConversationID: m.ConversationID}
	case FrameMessagesRead:
		var p MessagesReadPayload
		err = decodePayload(env, &p)
		ev = Event{Kind: KindMessagesRead, ConversationID: p.ConversationID, ReaderID: p.ReaderID}
	case FrameError:
		var p ErrorPayload
		err = decodePayload(env, &p)
		ev = Event{Kind: KindError, Reason: p.Message}
	default:
		return Event{}, fmt.Errorf("unknown frame type %q", env.Type)
	}
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}
