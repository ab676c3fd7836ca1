package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ridelink/chatsync/internal/transport"
	"go.uber.org/zap"
)

var (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = int64(64 * 1024)
	sendBufSize    = 256
)

// Client is one websocket session of an authenticated user.
type Client struct {
	ID     string
	UserID string

	conn   *websocket.Conn
	hub    *Hub
	egress chan transport.Envelope
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newClient(userID string, conn *websocket.Conn, hub *Hub, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		hub:    hub,
		egress: make(chan transport.Envelope, sendBufSize),
		logger: logger.With(zap.String("client", id), zap.String("user", userID)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send queues env for the write pump. A client whose buffer is full is
// disconnected rather than allowed to stall the hub.
func (c *Client) Send(env transport.Envelope) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.egress <- env:
		return true
	default:
		c.logger.Warn("egress full, disconnecting client")
		c.Close()
		return false
	}
}

// Close stops both pumps. The write pump sends the close frame.
func (c *Client) Close() {
	c.once.Do(c.cancel)
}

func (c *Client) start() {
	go c.readPump()
	go c.writePump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env transport.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Info("client disconnected")
			case errors.As(err, &ne) && ne.Timeout():
				c.logger.Info("client timed out")
			case c.ctx.Err() != nil:
			default:
				c.logger.Warn("read failed", zap.Error(err))
			}
			return
		}
		// any frame proves the peer is alive
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.Handle(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "relay closing")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case env := <-c.egress:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Warn("write failed", zap.String("type", env.Type), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ping failed", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}
