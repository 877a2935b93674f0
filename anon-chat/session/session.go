package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/anon-chat/channel"
	"github.com/gosuda/portal-chat/anon-chat/identity"
	"github.com/gosuda/portal-chat/anon-chat/rooms"
)

var (
	ErrAlreadyJoined = errors.New("session already joined a room")
	ErrNotJoined     = errors.New("session has not joined a room")
	ErrTerminated    = errors.New("session terminated")
)

type State int

const (
	StateIdle State = iota
	StateJoining
	StateActive
	StateCleaning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateCleaning:
		return "cleaning"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Sink receives what a session displays. Both methods are called with the
// session lock held and must not block or call back into the session.
type Sink interface {
	Deliver(msg channel.Message)
	Closed(status Status)
}

// Session is one participant's view of one room, scoped to a single
// connection. Once terminated it cannot be reused.
type Session struct {
	mgr   *Manager
	owner string
	sink  Sink

	mu          sync.Mutex
	state       State
	room        *Room
	ident       identity.Identity
	unsubscribe func()
	replaying   bool
	pending     []channel.Message
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ident
}

func (s *Session) Owner() string { return s.owner }

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.id
}

// Join enters roomID, replays its history and announces the participant.
func (s *Session) Join(ctx context.Context, roomID, displayName string) (identity.Result, error) {
	if err := rooms.ValidID(roomID); err != nil {
		return identity.Result{}, err
	}
	s.mu.Lock()
	switch s.state {
	case StateIdle:
	case StateCleaning, StateTerminated:
		s.mu.Unlock()
		return identity.Result{}, ErrTerminated
	default:
		s.mu.Unlock()
		return identity.Result{}, ErrAlreadyJoined
	}
	s.state = StateJoining
	s.mu.Unlock()

	// Attach first: a cleanup that overlaps the lookup then terminates this
	// session instead of leaving it in a fresh room with a stale number.
	room, err := s.mgr.attach(roomID, displayName, s)
	if err != nil {
		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()
		return identity.Result{}, fmt.Errorf("join %s: %w", roomID, err)
	}
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()

	res := s.mgr.identities.Get(ctx, roomID, s.owner)

	s.mu.Lock()
	s.ident = res.Identity
	s.replaying = true
	s.mu.Unlock()

	if sub, ok := s.mgr.channel.(channel.Subscriber); ok {
		cancel := sub.Subscribe(roomID, s.receive)
		s.mu.Lock()
		if s.state == StateJoining {
			s.unsubscribe = cancel
			cancel = nil
		}
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}

	history, err := s.mgr.channel.FetchHistory(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("[session] fetch history failed")
	}
	s.replay(history)

	notice := channel.NewSystemMessage(roomID, res.Identity.Label()+" joined the room", s.mgr.clock.Now())
	if err := s.commit(ctx, room, notice); err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoining {
		return res, ErrTerminated
	}
	s.state = StateActive
	log.Info().Str("room", roomID).Str("owner", s.owner).Str("seq", res.Identity.SequenceNumber).Bool("fallback", res.Fallback).Msg("[session] joined")
	return res, nil
}

// replay delivers history followed by live messages buffered while joining,
// in creation order and without duplicates.
func (s *Session) replay(history []channel.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaying = false
	pending := s.pending
	s.pending = nil
	if s.state != StateJoining {
		return
	}

	seen := make(map[uuid.UUID]struct{}, len(history)+len(pending))
	out := make([]channel.Message, 0, len(history)+len(pending))
	for _, m := range append(history, pending...) {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b channel.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	for _, m := range out {
		s.sink.Deliver(m)
	}
}

// receive is the subscription callback. Every inbound message counts as
// room activity.
func (s *Session) receive(m channel.Message) {
	s.mu.Lock()
	switch {
	case s.state == StateJoining && s.replaying:
		s.pending = append(s.pending, m)
	case s.state == StateJoining || s.state == StateActive:
		s.sink.Deliver(m)
	default:
		s.mu.Unlock()
		return
	}
	room := s.room
	s.mu.Unlock()
	room.touch()
}

// Send posts content as the session's identity. Whitespace-only content is
// ignored without touching the room.
func (s *Session) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	s.mu.Lock()
	state, room, ident := s.state, s.room, s.ident
	s.mu.Unlock()
	switch state {
	case StateActive:
	case StateCleaning, StateTerminated:
		return ErrTerminated
	default:
		return ErrNotJoined
	}

	body := s.mgr.sanitize(content)
	if strings.TrimSpace(body) == "" {
		return nil
	}
	msg := channel.NewUserMessage(room.id, ident, body, s.mgr.clock.Now())
	return s.commit(ctx, room, msg)
}

func (s *Session) commit(ctx context.Context, room *Room, msg channel.Message) error {
	if err := room.commit(ctx, msg); err != nil {
		if errors.Is(err, ErrRoomClosed) {
			return fmt.Errorf("%w: %w", ErrTerminated, err)
		}
		return err
	}
	if _, ok := s.mgr.channel.(channel.Subscriber); !ok {
		// No fan-out: the sender renders its own message.
		s.mu.Lock()
		if s.state == StateJoining || s.state == StateActive {
			s.sink.Deliver(msg)
		}
		s.mu.Unlock()
	}
	return nil
}

// Leave detaches the session. The room timer keeps running for everyone else.
func (s *Session) Leave() {
	s.mu.Lock()
	room, unsub := s.room, s.unsubscribe
	s.unsubscribe = nil
	s.state = StateTerminated
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if room != nil {
		room.detach(s)
	}
}

func (s *Session) beginCleaning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateJoining || s.state == StateActive {
		s.state = StateCleaning
	}
}

func (s *Session) terminate(notice channel.Message) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.sink.Deliver(notice)
	s.sink.Closed(StatusCleaned)
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
