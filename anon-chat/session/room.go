package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/anon-chat/channel"
)

var ErrRoomClosed = errors.New("room closed")

type Status string

const (
	StatusIdle    Status = "idle"
	StatusActive  Status = "active"
	StatusCleaned Status = "cleaned"
)

const cleanupTimeout = 10 * time.Second

type roomState int

const (
	roomAlive roomState = iota
	roomCleaning
	roomClosed
)

// Room owns the idle timer of one chat room. Commits hold mu for reading and
// cleanup holds it for writing, so a commit either lands before the purge or
// is rejected. tmu guards the timer and is always taken after mu.
type Room struct {
	id   string
	name string
	mgr  *Manager

	mu       sync.RWMutex
	state    roomState
	sessions map[*Session]struct{}
	closed   atomic.Bool

	tmu          sync.Mutex
	timer        Timer
	gen          uint64
	lastActivity time.Time
}

func newRoom(id, name string, mgr *Manager) *Room {
	return &Room{
		id:       id,
		name:     name,
		mgr:      mgr,
		sessions: make(map[*Session]struct{}),
	}
}

func (r *Room) ID() string   { return r.id }

// Alive reports whether the room saw activity within the idle threshold.
func (r *Room) Alive(now time.Time) bool {
	if r.closed.Load() {
		return false
	}
	r.tmu.Lock()
	defer r.tmu.Unlock()
	return now.Sub(r.lastActivity) < r.mgr.idle
}

func (r *Room) LastActivity() time.Time {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	return r.lastActivity
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Room) attach(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != roomAlive {
		return ErrRoomClosed
	}
	r.sessions[s] = struct{}{}
	return nil
}

func (r *Room) detach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
}

func (r *Room) commit(ctx context.Context, msg channel.Message) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != roomAlive {
		return ErrRoomClosed
	}
	if err := r.mgr.channel.Send(ctx, msg); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	r.touch()
	return nil
}

// touch stamps activity and replaces the pending idle timer. The generation
// lets a timer that already fired notice it was superseded.
func (r *Room) touch() {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	r.lastActivity = r.mgr.clock.Now()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.timer = r.mgr.clock.AfterFunc(r.mgr.idle, func() { r.expire(gen) })
}

func (r *Room) stopTimer() {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
}

func (r *Room) expire(gen uint64) {
	r.mu.Lock()
	r.tmu.Lock()
	stale := gen != r.gen
	r.tmu.Unlock()
	if stale || r.state != roomAlive {
		r.mu.Unlock()
		return
	}
	r.state = roomCleaning
	for s := range r.sessions {
		s.beginCleaning()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	n, err := r.mgr.channel.Purge(ctx, r.id)
	if err != nil {
		log.Error().Err(err).Str("room", r.id).Msg("[room] purge messages failed")
	}
	if err := r.mgr.identities.Clear(ctx, r.id); err != nil {
		log.Warn().Err(err).Str("room", r.id).Msg("[room] clear identities failed")
	}

	notice := channel.NewSystemMessage(r.id,
		fmt.Sprintf("🗑️ chat room cleaned after %s of inactivity", r.mgr.idle), r.mgr.clock.Now())
	for s := range r.sessions {
		s.terminate(notice)
	}
	r.sessions = make(map[*Session]struct{})
	r.state = roomClosed
	r.closed.Store(true)
	r.mu.Unlock()

	r.mgr.removeRoom(r.id, r)
	log.Info().Str("room", r.id).Str("name", r.name).Int("purged", n).Msg("[room] cleaned after inactivity")
}
