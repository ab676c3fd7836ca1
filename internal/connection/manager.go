// Package connection keeps exactly one transport session bound to the current
// authenticated identity and drives the connection state machine.
package connection

import (
	"context"
	"fmt"

	"github.com/ridelink/chatsync/internal/auth"
	"github.com/ridelink/chatsync/internal/bus"
	"github.com/ridelink/chatsync/internal/status"
	"github.com/ridelink/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Hooks connect the manager to the state that depends on it.
//
// Dispatch receives every transport event tagged with the generation of the
// session that produced it; the owner serializes it and hands it back to
// Handle. The other hooks are called from within Bind, Handle and Close.
type Hooks struct {
	Dispatch    func(gen uint64, ev transport.Event)
	Deliver     func(ev transport.Event)
	OnConnected func(conn transport.Conn)
	OnReset     func()
	Notify      func(kind, text string, err error)
}

// Manager is not safe for concurrent use. Its owner calls Bind, Handle and
// Close one at a time.
type Manager struct {
	dialer  transport.Dialer
	machine *status.Machine
	hooks   Hooks
	logger  *zap.Logger

	creds auth.Credentials
	conn  transport.Conn
	gen   uint64
}

// New creates a manager in the disconnected state with no identity bound.
func New(d transport.Dialer, machine *status.Machine, hooks Hooks, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dialer:  d,
		machine: machine,
		hooks:   hooks,
		logger:  logger,
	}
}

// Bind attaches the manager to creds. Any change tears the old session down
// and resets dependent state; a complete identity then opens a new session.
// Binding the same credentials again is a no-op.
func (m *Manager) Bind(ctx context.Context, creds auth.Credentials) error {
	if creds.Equal(m.creds) {
		return nil
	}
	m.teardown()
	m.creds = creds
	m.toDisconnected()
	m.reset()

	if !creds.Complete() {
		m.logger.Info("no authenticated identity, staying disconnected")
		return nil
	}

	m.transition(status.Connecting)
	gen := m.gen
	conn, err := m.dialer.Dial(ctx, creds, func(ev transport.Event) {
		m.hooks.Dispatch(gen, ev)
	})
	if err != nil {
		m.transition(status.Error)
		m.notify(bus.KindNoticeConnection, "could not reach chat server", err)
		return fmt.Errorf("dial relay: %w", err)
	}
	m.conn = conn
	m.logger.Info("session opened", zap.String("user", creds.UserID), zap.Uint64("generation", gen))
	return nil
}

// Handle processes one transport event. Events from an older session are
// ignored, as are data events while not connected.
func (m *Manager) Handle(gen uint64, ev transport.Event) {
	if gen != m.gen || m.conn == nil {
		m.logger.Debug("ignoring event from closed session",
			zap.String("kind", string(ev.Kind)), zap.Uint64("generation", gen))
		return
	}

	switch ev.Kind {
	case transport.KindConnect:
		if ev.UserID != "" && ev.UserID != m.creds.UserID {
			m.logger.Warn("relay authenticated a different user",
				zap.String("want", m.creds.UserID), zap.String("got", ev.UserID))
		}
		if m.machine.Current() == status.Disconnected {
			m.transition(status.Connecting)
		}
		m.transition(status.Connected)
		if m.hooks.OnConnected != nil {
			m.hooks.OnConnected(m.conn)
		}

	case transport.KindDisconnect:
		if m.machine.Current() != status.Connected {
			return
		}
		m.transition(status.Disconnected)
		m.notify(bus.KindNoticeConnection, "connection lost: "+ev.Reason, nil)
		m.reset()

	case transport.KindConnectError:
		m.transition(status.Error)
		m.notify(bus.KindNoticeConnection, "could not connect to chat: "+ev.Reason, nil)
		m.teardown()
		m.reset()

	default:
		if m.machine.Current() != status.Connected {
			m.logger.Debug("dropping event while not connected", zap.String("kind", string(ev.Kind)))
			return
		}
		if m.hooks.Deliver != nil {
			m.hooks.Deliver(ev)
		}
	}
}

// Close tears the session down silently and forgets the bound identity.
func (m *Manager) Close() {
	m.teardown()
	m.creds = auth.Credentials{}
	m.toDisconnected()
	m.reset()
}

// Conn returns the live session, or nil unless connected.
func (m *Manager) Conn() transport.Conn {
	if m.machine.Current() != status.Connected {
		return nil
	}
	return m.conn
}

// Credentials returns the bound identity.
func (m *Manager) Credentials() auth.Credentials {
	return m.creds
}

// Generation returns the tag of the current session.
func (m *Manager) Generation() uint64 {
	return m.gen
}

func (m *Manager) teardown() {
	m.gen++
	if m.conn == nil {
		return
	}
	if err := m.conn.Close(); err != nil {
		m.logger.Warn("failed to close session", zap.Error(err))
	}
	m.conn = nil
}

func (m *Manager) toDisconnected() {
	if m.machine.Current() != status.Disconnected {
		m.transition(status.Disconnected)
	}
}

func (m *Manager) transition(to status.State) {
	from := m.machine.Current()
	if err := m.machine.Transition(to); err != nil {
		m.logger.Error("connection state transition rejected", zap.Error(err))
		return
	}
	m.logger.Info("connection state changed", zap.String("from", string(from)), zap.String("to", string(to)))
}

func (m *Manager) reset() {
	if m.hooks.OnReset != nil {
		m.hooks.OnReset()
	}
}

func (m *Manager) notify(kind, text string, err error) {
	if m.hooks.Notify != nil {
		m.hooks.Notify(kind, text, err)
	}
}
