package sync

import (
	"context"

	"github.com/ridelink/chatsync/internal/bus"
	"github.com/ridelink/chatsync/internal/chat"
	"github.com/ridelink/chatsync/internal/transport"
	"go.uber.org/zap"
)

// handleEvent applies one data event from a connected session. The caller
// holds e.mu.
func (e *Engine) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.KindConversations:
		e.applyConversations(ev.Conversations)
	case transport.KindNewConversation:
		e.applyNewConversation(ev.Conversation)
	case transport.KindConversationMessages:
		e.applyHistory(ev.ConversationID, ev.Messages)
	case transport.KindMessage:
		e.applyMessage(ev.Message)
	case transport.KindMessagesRead:
		e.applyReadReceipt(ev.ConversationID, ev.ReaderID)
	case transport.KindError:
		e.logger.Warn("relay reported an error", zap.String("message", ev.Reason))
		e.notify(bus.KindNoticeServerError, ev.Reason, nil)
	default:
		e.logger.Debug("ignoring transport event", zap.String("kind", string(ev.Kind)))
	}
}

func (e *Engine) applyConversations(list []chat.Conversation) {
	selected := e.dir.Selected()
	e.dir.ReplaceAll(list)
	e.publish(bus.KindDirectoryChanged, "")
	if selected != "" && e.dir.Selected() == "" {
		e.store.Open("")
		e.publish(bus.KindSelectionChanged, "")
		e.publish(bus.KindMessagesChanged, "")
	}
	e.logger.Info("conversations loaded", zap.Int("count", e.dir.Len()))
}

// applyNewConversation inserts a pushed conversation. When it answers a
// createConversation issued here, it becomes the selection.
func (e *Engine) applyNewConversation(c chat.Conversation) {
	if c.ID == "" {
		e.logger.Warn("dropping conversation without id")
		return
	}
	if e.dir.InsertNew(c) {
		e.publish(bus.KindDirectoryChanged, c.ID)
	}

	key := chat.ParticipantKey(c.ParticipantIDs)
	if e.pendingCreates[key] == 0 {
		return
	}
	e.releaseCreate(key)
	e.dir.Select(c.ID)
	cached := e.store.Open(c.ID)
	e.publish(bus.KindSelectionChanged, c.ID)
	e.publish(bus.KindMessagesChanged, c.ID)

	if cached {
		return
	}
	if conn := e.conn.Conn(); conn != nil {
		ctx, cancel := context.WithTimeout(e.ctx, requestTimeout)
		defer cancel()
		if err := conn.GetConversationMessages(ctx, c.ID); err != nil {
			e.commandFailed("could not load messages", err)
		}
	}
}

func (e *Engine) applyHistory(conversationID string, msgs []chat.Message) {
	if !e.store.LoadHistory(conversationID, msgs) {
		e.logger.Debug("discarding stale history",
			zap.String("conversation", conversationID),
			zap.String("viewing", e.store.ConversationID()))
		return
	}
	e.publish(bus.KindMessagesChanged, conversationID)
}

// applyMessage reconciles a pushed message. Echoes of this client's sends are
// matched to their pending entry by temp id; everything else is incoming.
func (e *Engine) applyMessage(m chat.Message) {
	if m.ID == "" || m.ConversationID == "" {
		e.logger.Warn("dropping message without id or conversation")
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = e.now()
	}
	self := e.conn.Credentials().UserID
	fromOther := m.SenderID != self

	if !fromOther && m.TempID != "" {
		e.outbox.Ack(m.TempID, m.ID)
	}

	if m.ConversationID == e.store.ConversationID() {
		var changed bool
		if fromOther {
			changed = e.store.ApplyIncoming(m)
		} else {
			changed = e.store.Reconcile(m.TempID, m)
		}
		if changed {
			e.publish(bus.KindMessagesChanged, m.ConversationID)
		}
	} else {
		if !fromOther {
			// settles a send parked when the user switched away
			e.store.Reconcile(m.TempID, m)
		}
		e.store.Invalidate(m.ConversationID)
	}

	if !e.dir.UpsertFromActivity(m.ConversationID, m.Content, m.CreatedAt, fromOther) {
		e.logger.Debug("activity for unknown conversation", zap.String("conversation", m.ConversationID))
		return
	}
	e.publish(bus.KindDirectoryChanged, m.ConversationID)

	// Keep the relay's unread counter in step with what the user is looking at.
	if fromOther && m.ConversationID == e.dir.Selected() {
		if conn := e.conn.Conn(); conn != nil {
			ctx, cancel := context.WithTimeout(e.ctx, requestTimeout)
			defer cancel()
			if err := conn.MarkMessagesAsRead(ctx, m.ConversationID); err != nil {
				e.logger.Warn("failed to mark messages as read", zap.Error(err))
			}
		}
	}
}

func (e *Engine) applyReadReceipt(conversationID, readerID string) {
	self := e.conn.Credentials().UserID
	if readerID == self {
		if e.dir.ClearUnread(conversationID) {
			e.publish(bus.KindDirectoryChanged, conversationID)
		}
		return
	}
	if conversationID != e.store.ConversationID() {
		e.store.Invalidate(conversationID)
		return
	}
	if n := e.store.MarkSentByOthersAsRead(conversationID, readerID, self); n > 0 {
		e.publish(bus.KindMessagesChanged, conversationID)
	}
}
