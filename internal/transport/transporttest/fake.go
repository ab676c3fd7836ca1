// Package transporttest provides an in-memory transport that records commands
// and lets tests replay server events.
package transporttest

import (
	"context"
	"slices"
	"sync"

	"github.com/ridelink/chatsync/internal/auth"
	"github.com/ridelink/chatsync/internal/transport"
)

// Call is one recorded command.
type Call struct {
	Method         string
	ConversationID string
	Content        string
	TempID         string
	ParticipantIDs []string
	Title          string
}

// Dialer hands out fake connections. Dial never calls the handler; events
// are injected with Conn.Emit.
type Dialer struct {
	mu    sync.Mutex
	Err   error
	conns []*Conn
}

// Dial records the session and returns its fake connection.
func (d *Dialer) Dial(_ context.Context, creds auth.Credentials, h transport.Handler) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	c := &Conn{Creds: creds, handler: h, failures: make(map[string]error)}
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials returns how many sessions were opened.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Last returns the most recent session, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conn is a fake session.
type Conn struct {
	Creds auth.Credentials

	mu       sync.Mutex
	handler  transport.Handler
	calls    []Call
	failures map[string]error
	closed   bool
}

// Emit delivers ev as if the server had sent it.
func (c *Conn) Emit(ev transport.Event) {
	c.handler(ev)
}

// Fail makes every later call of method return err. A nil err clears it.
func (c *Conn) Fail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, method)
		return
	}
	c.failures[method] = err
}

// Calls returns the recorded commands, optionally filtered by method.
func (c *Conn) Calls(method string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if method == "" {
		return slices.Clone(c.calls)
	}
	var out []Call
	for _, call := range c.calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) record(call Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrNotConnected
	}
	c.calls = append(c.calls, call)
	return c.failures[call.Method]
}

func (c *Conn) GetConversations(context.Context) error {
	return c.record(Call{Method: transport.CmdGetConversations})
}

func (c *Conn) GetConversationMessages(_ context.Context, conversationID string) error {
	return c.record(Call{Method: transport.CmdGetConversationMessages, ConversationID: conversationID})
}

func (c *Conn) SendMessage(_ context.Context, conversationID, content, tempID string) error {
	return c.record(Call{
		Method:         transport.CmdSendMessage,
		ConversationID: conversationID,
		Content:        content,
		TempID:         tempID,
	})
}

func (c *Conn) CreateConversation(_ context.Context, participantIDs []string, title string) error {
	return c.record(Call{
		Method:         transport.CmdCreateConversation,
		ParticipantIDs: slices.Clone(participantIDs),
		Title:          title,
	})
}

func (c *Conn) MarkMessagesAsRead(_ context.Context, conversationID string) error {
	return c.record(Call{Method: transport.CmdMarkMessagesAsRead, ConversationID: conversationID})
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
