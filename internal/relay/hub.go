// Package relay is a single-node development server speaking the chat
// transport protocol. It keeps every conversation in SQLite and fans frames
// out to the websocket sessions of each participant.
package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ridelink/chatsync/internal/store"
	"github.com/ridelink/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Hub tracks connected clients per user and executes their commands.
type Hub struct {
	db           *store.DB
	historyLimit int
	logger       *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	// commands run one at a time so every participant sees frames in the
	// order the store applied them
	cmdMu sync.Mutex

	now   func() time.Time
	newID func() string
}

// NewHub creates a hub backed by db.
func NewHub(db *store.DB, historyLimit int, logger *zap.Logger) *Hub {
	return &Hub{
		db:           db,
		historyLimit: historyLimit,
		logger:       logger,
		clients:      make(map[string]map[*Client]struct{}),
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Register makes c reachable by SendTo.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	n := len(set)
	h.mu.Unlock()
	h.logger.Info("client registered", zap.String("user", c.UserID), zap.String("client", c.ID), zap.Int("sessions", n))
}

// Unregister removes c. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if ok {
		if _, present := set[c]; !present {
			ok = false
		}
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	}
	h.mu.Unlock()
	if ok {
		h.logger.Info("client unregistered", zap.String("user", c.UserID), zap.String("client", c.ID))
	}
}

// SendTo queues env for every session of userID and returns how many
// sessions accepted it.
func (h *Hub) SendTo(userID string, env transport.Envelope) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.Send(env) {
			sent++
		}
	}
	return sent
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close()
	}
}
