// Package sync is the chat synchronization engine. It owns the conversation
// directory and the message store, turns UI commands into optimistic local
// changes plus transport requests, and reconciles transport events against
// that local state.
package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ridelink/chatsync/internal/auth"
	"github.com/ridelink/chatsync/internal/bus"
	"github.com/ridelink/chatsync/internal/chat"
	"github.com/ridelink/chatsync/internal/connection"
	"github.com/ridelink/chatsync/internal/outbox"
	"github.com/ridelink/chatsync/internal/status"
	"github.com/ridelink/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Command validation errors. Nothing is mutated when one is returned.
var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrNotConnected         = errors.New("not connected to chat")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoParticipants       = errors.New("at least one participant is required")
)

const requestTimeout = 10 * time.Second

// Engine serializes every command and every transport event behind a single
// mutex, so the directory and the store only ever see one mutation at a time.
type Engine struct {
	mu sync.Mutex

	bus     *bus.Bus
	logger  *zap.Logger
	machine *status.Machine
	conn    *connection.Manager
	dir     *chat.Directory
	store   *chat.MessageStore
	outbox  *outbox.Tracker

	// participant keys of createConversation requests awaiting their push
	pendingCreates map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
	tempID func() string
}

// New creates an engine with no identity bound.
func New(d transport.Dialer, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		bus:            b,
		logger:         logger,
		machine:        status.NewMachine(b),
		dir:            chat.NewDirectory(),
		store:          chat.NewMessageStore(),
		outbox:         outbox.NewTracker(logger.Named("outbox")),
		pendingCreates: make(map[string]int),
		ctx:            context.Background(),
		now:            time.Now,
		tempID:         func() string { return chat.TempIDPrefix + uuid.NewString() },
	}
	e.conn = connection.New(d, e.machine, connection.Hooks{
		Dispatch:    e.dispatch,
		Deliver:     e.handleEvent,
		OnConnected: e.onConnected,
		OnReset:     e.resetState,
		Notify:      e.notify,
	}, logger.Named("connection"))
	return e
}

// Start binds the initial credentials and follows auth changes published on
// the bus until Stop.
func (e *Engine) Start(ctx context.Context, initial auth.Credentials) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.ctx, e.cancel = ctx, cancel
	e.mu.Unlock()

	ch, unsub := e.bus.Subscribe(bus.NamespaceAuth, 16)
	if err := e.Bind(ctx, initial); err != nil {
		e.logger.Error("failed to bind initial identity", zap.Error(err))
	}

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				creds, ok := evt.Payload.(auth.Credentials)
				if !ok {
					continue
				}
				if err := e.Bind(ctx, creds); err != nil {
					e.logger.Error("failed to bind identity", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop closes the session and stops following auth changes.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.conn.Close()
}

// Bind attaches the engine to an identity. A change of any field tears the
// current session down and clears all chat state.
func (e *Engine) Bind(ctx context.Context, creds auth.Credentials) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.Bind(ctx, creds)
}

// SelectConversation makes id the selected conversation, clears its unread
// counter locally and on the server, and requests its history unless a
// cached copy is still valid. An empty id clears the selection.
func (e *Engine) SelectConversation(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id == "" {
		e.dir.Select("")
		e.store.Open("")
		e.publish(bus.KindSelectionChanged, "")
		e.publish(bus.KindMessagesChanged, "")
		return nil
	}
	if !e.dir.Select(id) {
		return e.reject(fmt.Errorf("%w: %s", ErrConversationNotFound, id))
	}
	cached := e.store.Open(id)
	e.publish(bus.KindSelectionChanged, id)
	e.publish(bus.KindDirectoryChanged, id)
	e.publish(bus.KindMessagesChanged, id)

	conn := e.conn.Conn()
	if conn == nil {
		return nil
	}
	if !cached {
		if err := conn.GetConversationMessages(ctx, id); err != nil {
			return e.commandFailed("could not load messages", fmt.Errorf("get conversation messages: %w", err))
		}
	}
	if err := conn.MarkMessagesAsRead(ctx, id); err != nil {
		return e.commandFailed("could not mark conversation as read", fmt.Errorf("mark messages as read: %w", err))
	}
	return nil
}

// SendMessage appends content optimistically and sends it. An empty
// conversationID targets the selected conversation. Returns the temporary id
// the relay echo will be reconciled by.
func (e *Engine) SendMessage(ctx context.Context, conversationID, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		e.notify(bus.KindNoticeCommand, "cannot send an empty message", ErrEmptyMessage)
		return "", ErrEmptyMessage
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	conn := e.conn.Conn()
	if conn == nil {
		return "", e.reject(ErrNotConnected)
	}
	if conversationID == "" {
		conversationID = e.dir.Selected()
	}
	if _, ok := e.dir.Get(conversationID); !ok {
		return "", e.reject(fmt.Errorf("%w: %q", ErrConversationNotFound, conversationID))
	}

	tempID := e.tempID()
	at := e.now()
	self := e.conn.Credentials().UserID
	if !e.store.AppendOptimistic(tempID, conversationID, self, content, at) {
		e.store.Invalidate(conversationID)
	}
	e.outbox.Begin(tempID, conversationID, content)
	e.publish(bus.KindMessagesChanged, conversationID)

	if err := conn.SendMessage(ctx, conversationID, content, tempID); err != nil {
		err = fmt.Errorf("send message: %w", err)
		e.store.Rollback(tempID)
		e.outbox.Fail(tempID, err)
		e.publish(bus.KindMessagesChanged, conversationID)
		e.notify(bus.KindNoticeSendFailed, "message could not be sent", err)
		return "", err
	}

	e.dir.UpsertFromActivity(conversationID, content, at, false)
	e.publish(bus.KindDirectoryChanged, conversationID)
	return tempID, nil
}

// CreateConversation asks the relay to create a conversation with the given
// participants plus the local user. The conversation appears, and becomes
// selected, when the relay pushes it back.
func (e *Engine) CreateConversation(ctx context.Context, participantIDs []string, title string) error {
	ids := chat.NormalizeParticipants(participantIDs)
	if len(ids) == 0 {
		e.notify(bus.KindNoticeCommand, "pick at least one participant", ErrNoParticipants)
		return ErrNoParticipants
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	conn := e.conn.Conn()
	if conn == nil {
		return e.reject(ErrNotConnected)
	}
	if self := e.conn.Credentials().UserID; !slices.Contains(ids, self) {
		ids = chat.NormalizeParticipants(append(ids, self))
	}
	key := chat.ParticipantKey(ids)
	e.pendingCreates[key]++

	if err := conn.CreateConversation(ctx, ids, strings.TrimSpace(title)); err != nil {
		e.releaseCreate(key)
		return e.commandFailed("could not create conversation", fmt.Errorf("create conversation: %w", err))
	}
	return nil
}

// MarkMessagesAsRead clears the unread counter of a conversation and tells
// the relay. The local counter stays cleared even if the request fails.
func (e *Engine) MarkMessagesAsRead(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	conn := e.conn.Conn()
	if conn == nil {
		return e.reject(ErrNotConnected)
	}
	if !e.dir.ClearUnread(id) {
		return e.reject(fmt.Errorf("%w: %s", ErrConversationNotFound, id))
	}
	e.publish(bus.KindDirectoryChanged, id)

	if err := conn.MarkMessagesAsRead(ctx, id); err != nil {
		return e.commandFailed("could not mark conversation as read", fmt.Errorf("mark messages as read: %w", err))
	}
	return nil
}

// Status returns the connection state.
func (e *Engine) Status() status.State {
	return e.machine.Current()
}

// Conversations returns the directory in display order.
func (e *Engine) Conversations() []chat.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir.Snapshot()
}

// Selected returns the selected conversation id, or "".
func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir.Selected()
}

// Messages returns the history of the selected conversation.
func (e *Engine) Messages() []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Snapshot()
}

// Sending reports whether any send is still waiting for its echo.
func (e *Engine) Sending() bool {
	return e.outbox.Len() > 0
}

// PendingSends lists sends still waiting for their echo, oldest first.
func (e *Engine) PendingSends() []outbox.Entry {
	return e.outbox.Pending()
}

// Identity returns the user id the engine is bound to.
func (e *Engine) Identity() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.Credentials().UserID
}

func (e *Engine) dispatch(gen uint64, ev transport.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn.Handle(gen, ev)
}

func (e *Engine) onConnected(conn transport.Conn) {
	ctx, cancel := context.WithTimeout(e.ctx, requestTimeout)
	defer cancel()
	if err := conn.GetConversations(ctx); err != nil {
		e.commandFailed("could not load conversations", fmt.Errorf("get conversations: %w", err))
	}
}

// resetState abandons all chat state. Sends still in flight are reported as
// failed once.
func (e *Engine) resetState() {
	dropped := e.outbox.Clear()
	e.dir.Reset()
	e.store.Reset()
	clear(e.pendingCreates)
	e.publish(bus.KindDirectoryChanged, "")
	e.publish(bus.KindSelectionChanged, "")
	e.publish(bus.KindMessagesChanged, "")
	if dropped > 0 {
		e.notify(bus.KindNoticeSendFailed, fmt.Sprintf("%d unsent message(s) discarded", dropped), nil)
	}
}

func (e *Engine) releaseCreate(key string) {
	if e.pendingCreates[key] <= 1 {
		delete(e.pendingCreates, key)
		return
	}
	e.pendingCreates[key]--
}

func (e *Engine) reject(err error) error {
	e.notify(bus.KindNoticeCommand, err.Error(), err)
	return err
}

func (e *Engine) commandFailed(text string, err error) error {
	e.logger.Error(text, zap.Error(err))
	e.notify(bus.KindNoticeCommand, text, err)
	return err
}

func (e *Engine) notify(kind, text string, err error) {
	e.bus.Notify(kind, text, err)
}

func (e *Engine) publish(kind string, conversationID string) {
	e.bus.Publish(bus.Event{Kind: kind, Payload: conversationID})
}
