// Package session runs chat sessions: joining a room under an anonymous
// identity, sending, replaying history and the idle cleanup of rooms.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/anon-chat/channel"
	"github.com/gosuda/portal-chat/anon-chat/identity"
)

const DefaultIdleTimeout = 10 * time.Minute

const joinAttempts = 3

type Config struct {
	Channel     channel.Channel
	Identities  *identity.Store
	IdleTimeout time.Duration
	Clock       Clock
	// Sanitize cleans user content before it is stored. Defaults to TrimSpace.
	Sanitize func(string) string
}

// Manager keeps the live rooms and remembers which ones were cleaned.
type Manager struct {
	channel    channel.Channel
	identities *identity.Store
	idle       time.Duration
	clock      Clock
	sanitize   func(string) string

	mu      sync.Mutex
	rooms   map[string]*Room
	cleaned map[string]time.Time
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		channel:    cfg.Channel,
		identities: cfg.Identities,
		idle:       cfg.IdleTimeout,
		clock:      cfg.Clock,
		sanitize:   cfg.Sanitize,
		rooms:      make(map[string]*Room),
		cleaned:    make(map[string]time.Time),
	}
	if m.idle <= 0 {
		m.idle = DefaultIdleTimeout
	}
	if m.clock == nil {
		m.clock = realClock{}
	}
	if m.sanitize == nil {
		m.sanitize = strings.TrimSpace
	}
	return m
}

// NewSession creates an idle session for ownerID delivering into sink.
func (m *Manager) NewSession(ownerID string, sink Sink) *Session {
	return &Session{mgr: m, owner: ownerID, sink: sink}
}

func (m *Manager) acquire(id, name string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok && !r.closed.Load() {
		return r
	}
	r := newRoom(id, name, m)
	m.rooms[id] = r
	delete(m.cleaned, id)
	r.touch()
	log.Info().Str("room", id).Str("name", name).Msg("[room] created")
	return r
}

func (m *Manager) attach(id, name string, s *Session) (*Room, error) {
	for i := 0; i < joinAttempts; i++ {
		r := m.acquire(id, name)
		err := r.attach(s)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrRoomClosed) {
			return nil, err
		}
	}
	return nil, ErrRoomClosed
}

func (m *Manager) removeRoom(id string, r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[id]; ok && cur == r {
		delete(m.rooms, id)
	}
	m.cleaned[id] = m.clock.Now()
}

// Room returns the live room with the given id.
func (m *Manager) Room(id string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok || r.closed.Load() {
		return nil, false
	}
	return r, true
}

// Status is what the landing page shows for a room.
func (m *Manager) Status(id string) Status {
	if r, ok := m.Room(id); ok && r.Alive(m.clock.Now()) {
		return StatusActive
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cleaned[id]; ok {
		return StatusCleaned
	}
	return StatusIdle
}

// Close stops every idle timer. Stored messages are left in place.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rooms {
		r.stopTimer()
		delete(m.rooms, id)
	}
}
