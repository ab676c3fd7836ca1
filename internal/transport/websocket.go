package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/ridelink/chatsync/internal/auth"
	"go.uber.org/zap"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
	writeWait               = 10 * time.Second
)

// ReconnectPolicy is the transport's own recovery after an established
// session drops. A failed first handshake is never retried.
type ReconnectPolicy struct {
	Enabled     bool
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// WebSocketDialer opens sessions against the relay's websocket endpoint.
type WebSocketDialer struct {
	URL              string
	Reconnect        ReconnectPolicy
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	Logger           *zap.Logger
}

// Dial starts a session in the background and returns immediately.
func (d *WebSocketDialer) Dial(ctx context.Context, creds auth.Credentials, h Handler) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay url scheme %q: want ws or wss", u.Scheme)
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &wsConn{
		dialer:  d,
		url:     u.String(),
		creds:   creds,
		handler: h,
		logger:  logger.With(zap.String("relay", u.Host), zap.String("user", creds.UserID)),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run()
	return c, nil
}

func (d *WebSocketDialer) handshakeTimeout() time.Duration {
	if d.HandshakeTimeout > 0 {
		return d.HandshakeTimeout
	}
	return defaultHandshakeTimeout
}

func (d *WebSocketDialer) readTimeout() time.Duration {
	if d.ReadTimeout > 0 {
		return d.ReadTimeout
	}
	return defaultReadTimeout
}

func (d *WebSocketDialer) backoff() backoff.BackOff {
	if !d.Reconnect.Enabled {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	if d.Reconnect.BaseDelay > 0 {
		b.InitialInterval = d.Reconnect.BaseDelay
	}
	if d.Reconnect.MaxDelay > 0 {
		b.MaxInterval = d.Reconnect.MaxDelay
	}
	b.MaxElapsedTime = 0
	b.Reset()
	if d.Reconnect.MaxAttempts > 0 {
		return backoff.WithMaxRetries(b, uint64(d.Reconnect.MaxAttempts))
	}
	return b
}

type wsConn struct {
	dialer  *WebSocketDialer
	url     string
	creds   auth.Credentials
	handler Handler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool

	writeMu sync.Mutex
}

// run owns the session: handshake, read loop, and reconnection. It is the
// only goroutine that calls the handler, which keeps delivery ordered.
func (c *wsConn) run() {
	retry := c.dialer.backoff()
	established := false

	for {
		ws, userID, err := c.handshake()
		if c.isClosed() {
			if ws != nil {
				_ = ws.Close()
			}
			return
		}
		if err != nil {
			c.logger.Warn("relay handshake failed", zap.Error(err), zap.Bool("reconnecting", established))
			if !established || !c.wait(retry) {
				c.emit(Event{Kind: KindConnectError, Reason: err.Error()})
				return
			}
			continue
		}

		established = true
		retry.Reset()
		if !c.attach(ws) {
			_ = ws.Close()
			return
		}
		c.logger.Info("relay session established")
		c.emit(Event{Kind: KindConnect, UserID: userID})

		reason := c.readLoop(ws)
		c.detach(ws)
		if c.isClosed() {
			return
		}
		c.logger.Warn("relay session lost", zap.String("reason", reason))
		c.emit(Event{Kind: KindDisconnect, Reason: reason})

		if !c.wait(retry) {
			return
		}
	}
}

// wait sleeps for the next backoff delay. Returns false when no retry is left
// or the session was closed meanwhile.
func (c *wsConn) wait(retry backoff.BackOff) bool {
	delay := retry.NextBackOff()
	if delay == backoff.Stop {
		return false
	}
	c.logger.Info("reconnecting to relay", zap.Duration("delay", delay))
	select {
	case <-time.After(delay):
		return !c.isClosed()
	case <-c.ctx.Done():
		return false
	}
}

func (c *wsConn) handshake() (*websocket.Conn, string, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.creds.Token)

	timeout := c.dialer.handshakeTimeout()
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, resp, err := dialer.DialContext(c.ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, "", fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, "", fmt.Errorf("websocket dial: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	var env Envelope
	if err := ws.ReadJSON(&env); err != nil {
		_ = ws.Close()
		return nil, "", fmt.Errorf("read connected frame: %w", err)
	}
	ev, err := DecodeEvent(env)
	if err != nil {
		_ = ws.Close()
		return nil, "", err
	}
	switch ev.Kind {
	case KindConnect:
	case KindError:
		_ = ws.Close()
		return nil, "", fmt.Errorf("relay refused session: %s", ev.Reason)
	default:
		_ = ws.Close()
		return nil, "", fmt.Errorf("expected %q frame, got %q", FrameConnected, env.Type)
	}

	_ = ws.SetReadDeadline(time.Time{})
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(c.dialer.readTimeout()))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return ws, ev.UserID, nil
}

func (c *wsConn) readLoop(ws *websocket.Conn) string {
	for {
		_ = ws.SetReadDeadline(time.Now().Add(c.dialer.readTimeout()))
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if closeErr.Text != "" {
					return closeErr.Text
				}
				return "transport close"
			}
			return err.Error()
		}
		ev, err := DecodeEvent(env)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", zap.String("type", env.Type), zap.Error(err))
			continue
		}
		c.emit(ev)
	}
}

func (c *wsConn) emit(ev Event) {
	if c.isClosed() {
		return
	}
	c.handler(ev)
}

func (c *wsConn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ws = ws
	return true
}

func (c *wsConn) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsConn) send(ctx context.Context, typ string, payload any) error {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	return nil
}

func (c *wsConn) GetConversations(ctx context.Context) error {
	return c.send(ctx, CmdGetConversations, nil)
}

func (c *wsConn) GetConversationMessages(ctx context.Context, conversationID string) error {
	return c.send(ctx, CmdGetConversationMessages, ConversationRef{ConversationID: conversationID})
}

func (c *wsConn) SendMessage(ctx context.Context, conversationID, content, tempID string) error {
	return c.send(ctx, CmdSendMessage, SendMessagePayload{
		ConversationID: conversationID,
		Content:        content,
		TempID:         tempID,
	})
}

func (c *wsConn) CreateConversation(ctx context.Context, participantIDs []string, title string) error {
	return c.send(ctx, CmdCreateConversation, CreateConversationPayload{
		ParticipantIDs: participantIDs,
		Title:          title,
	})
}

func (c *wsConn) MarkMessagesAsRead(ctx context.Context, conversationID string) error {
	return c.send(ctx, CmdMarkMessagesAsRead, ConversationRef{ConversationID: conversationID})
}

// Close ends the session without emitting a disconnect event. It does not
// wait for the background goroutine.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	c.cancel()

	if ws == nil {
		return nil
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ReasonClientClose),
		time.Now().Add(writeWait))
	return ws.Close()
}
