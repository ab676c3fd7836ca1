package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ridelink/chatsync/internal/chat"
	"github.com/ridelink/chatsync/internal/config"
	"github.com/ridelink/chatsync/internal/transport"
	"go.uber.org/zap"
)

// commandError is reported back to the issuing client as an error frame.
type commandError struct {
	msg string
}

func (e *commandError) Error() string { return e.msg }

func rejectf(format string, args ...any) error {
	return &commandError{msg: fmt.Sprintf(format, args...)}
}

// Handle executes one command frame from c.
func (h *Hub) Handle(c *Client, env transport.Envelope) {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	var err error
	switch env.Type {
	case transport.CmdGetConversations:
		err = h.getConversations(c)
	case transport.CmdGetConversationMessages:
		err = h.getConversationMessages(c, env)
	case transport.CmdSendMessage:
		err = h.sendMessage(c, env)
	case transport.CmdCreateConversation:
		err = h.createConversation(c, env)
	case transport.CmdMarkMessagesAsRead:
		err = h.markMessagesAsRead(c, env)
	default:
		err = rejectf("unknown command %q", env.Type)
	}
	if err == nil {
		return
	}

	var ce *commandError
	if errors.As(err, &ce) {
		h.logger.Info("command rejected", zap.String("user", c.UserID), zap.String("type", env.Type), zap.String("reason", ce.msg))
		h.reply(c, transport.FrameError, transport.ErrorPayload{Message: ce.msg})
		return
	}
	h.logger.Error("command failed", zap.String("user", c.UserID), zap.String("type", env.Type), zap.Error(err))
	h.reply(c, transport.FrameError, transport.ErrorPayload{Message: env.Type + " failed"})
}

func (h *Hub) getConversations(c *Client) error {
	convs, err := h.db.ListConversations(c.UserID)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	h.reply(c, transport.FrameConversations, transport.ConversationsPayload{Conversations: convs})
	return nil
}

func (h *Hub) getConversationMessages(c *Client, env transport.Envelope) error {
	var ref transport.ConversationRef
	if err := decode(env, &ref); err != nil {
		return err
	}
	if err := h.requireParticipant(ref.ConversationID, c.UserID); err != nil {
		return err
	}
	msgs, err := h.db.ListMessages(ref.ConversationID, h.historyLimit)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	h.reply(c, transport.FrameConversationMessages, transport.ConversationMessagesPayload{
		ConversationID: ref.ConversationID,
		Messages:       msgs,
	})
	return nil
}

// sendMessage stores the message and pushes it to every participant. Only
// the sender's sessions get the temp id back.
func (h *Hub) sendMessage(c *Client, env transport.Envelope) error {
	var p transport.SendMessagePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return rejectf("message is empty")
	}
	if err := h.requireParticipant(p.ConversationID, c.UserID); err != nil {
		return err
	}

	m := chat.Message{
		ID:             h.newID(),
		ConversationID: p.ConversationID,
		SenderID:       c.UserID,
		Content:        content,
		CreatedAt:      h.now().UTC().Truncate(time.Millisecond),
		Status:         chat.StatusSent,
	}
	if err := h.db.InsertMessage(m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	members, err := h.db.Participants(p.ConversationID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	for _, userID := range members {
		out := m
		if userID == c.UserID {
			out.TempID = p.TempID
		}
		h.push(userID, transport.FrameMessage, out)
	}
	h.logger.Debug("message relayed",
		zap.String("conversation", m.ConversationID),
		zap.String("message", m.ID),
		zap.Int("participants", len(members)))
	return nil
}

// createConversation returns the existing conversation with the same
// participants and title to the requester, or creates one and announces it
// to every participant.
func (h *Hub) createConversation(c *Client, env transport.Envelope) error {
	var p transport.CreateConversationPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	ids := chat.NormalizeParticipants(append(p.ParticipantIDs, c.UserID))
	if len(ids) < 2 {
		return rejectf("a conversation needs another participant")
	}
	for _, id := range ids {
		if err := config.ValidateUserID(id); err != nil {
			return rejectf("%v", err)
		}
	}
	title := strings.TrimSpace(p.Title)

	existing, err := h.db.FindConversation(ids, title, c.UserID)
	if err != nil {
		return fmt.Errorf("find conversation: %w", err)
	}
	if existing != nil {
		h.reply(c, transport.FrameNewConversation, existing)
		return nil
	}

	conv := chat.Conversation{ID: h.newID(), ParticipantIDs: ids, Title: title}
	if err := h.db.CreateConversation(conv, h.now()); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	for _, userID := range ids {
		view, err := h.db.GetConversation(conv.ID, userID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		h.push(userID, transport.FrameNewConversation, view)
	}
	h.logger.Info("conversation created", zap.String("conversation", conv.ID), zap.Strings("participants", ids))
	return nil
}

func (h *Hub) markMessagesAsRead(c *Client, env transport.Envelope) error {
	var ref transport.ConversationRef
	if err := decode(env, &ref); err != nil {
		return err
	}
	if err := h.requireParticipant(ref.ConversationID, c.UserID); err != nil {
		return err
	}
	flipped, err := h.db.MarkRead(ref.ConversationID, c.UserID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	members, err := h.db.Participants(ref.ConversationID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	receipt := transport.MessagesReadPayload{ConversationID: ref.ConversationID, ReaderID: c.UserID}
	for _, userID := range members {
		h.push(userID, transport.FrameMessagesRead, receipt)
	}
	h.logger.Debug("messages read",
		zap.String("conversation", ref.ConversationID),
		zap.String("reader", c.UserID),
		zap.Int64("flipped", flipped))
	return nil
}

func (h *Hub) requireParticipant(conversationID, userID string) error {
	if conversationID == "" {
		return rejectf("conversationId is required")
	}
	ok, err := h.db.IsParticipant(conversationID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return rejectf("conversation %s not found", conversationID)
	}
	return nil
}

func (h *Hub) reply(c *Client, typ string, payload any) {
	env, err := transport.NewEnvelope(typ, payload)
	if err != nil {
		h.logger.Error("encode frame", zap.String("type", typ), zap.Error(err))
		return
	}
	c.Send(env)
}

func (h *Hub) push(userID, typ string, payload any) {
	env, err := transport.NewEnvelope(typ, payload)
	if err != nil {
		h.logger.Error("encode frame", zap.String("type", typ), zap.Error(err))
		return
	}
	h.SendTo(userID, env)
}

func decode(env transport.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return rejectf("%s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return rejectf("%s: malformed payload", env.Type)
	}
	return nil
}
