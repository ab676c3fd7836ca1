// Package auth is the boundary to the authentication collaborator: it holds
// the identity the chat session is bound to and announces every change.
package auth

import (
	"sync"

	"github.com/ridelink/chatsync/internal/bus"
)

// Credentials is the identity triple a chat session binds to.
type Credentials struct {
	Authenticated bool
	Token         string
	UserID        string
}

// Complete reports whether the triple is fully authenticated.
func (c Credentials) Complete() bool {
	return c.Authenticated && c.Token != "" && c.UserID != ""
}

// Equal compares every field of the triple.
func (c Credentials) Equal(o Credentials) bool {
	return c == o
}

// Source holds the current credentials and publishes auth.changed on the bus
// whenever any field changes.
type Source struct {
	mu      sync.RWMutex
	current Credentials
	bus     *bus.Bus
}

// NewSource creates a source starting from the given credentials.
func NewSource(b *bus.Bus, initial Credentials) *Source {
	return &Source{current: initial, bus: b}
}

// Current returns the current credentials.
func (s *Source) Current() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the credentials. Returns false when nothing changed.
func (s *Source) Set(c Credentials) bool {
	s.mu.Lock()
	if s.current.Equal(c) {
		s.mu.Unlock()
		return false
	}
	s.current = c
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindAuthChanged, Payload: c})
	}
	return true
}

// SignOut clears the credentials.
func (s *Source) SignOut() bool {
	return s.Set(Credentials{})
}
