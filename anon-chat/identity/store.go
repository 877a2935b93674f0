package identity

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/gosuda/portal-chat/anon-chat/storage"
)

// Records persists identities per room.
type Records interface {
	Load(roomID, key string) (Identity, bool, error)
	Save(roomID, key string, id Identity) error
	Clear(roomID string) error
}

// PebbleRecords stores identities under identity/<room>/<key>. Room-scoped
// records use an empty key, so they live at identity/<room>/.
type PebbleRecords struct {
	db *storage.DB
}

func NewPebbleRecords(db *storage.DB) *PebbleRecords {
	return &PebbleRecords{db: db}
}

func recordPrefix(roomID string) []byte {
	return []byte("identity/" + roomID + "/")
}

func (p *PebbleRecords) Load(roomID, key string) (Identity, bool, error) {
	raw, err := p.db.Get(append(recordPrefix(roomID), key...))
	if errors.Is(err, storage.ErrNotFound) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, err
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, false, err
	}
	return id, true, nil
}

func (p *PebbleRecords) Save(roomID, key string, id Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return p.db.Set(append(recordPrefix(roomID), key...), raw)
}

func (p *PebbleRecords) Clear(roomID string) error {
	_, err := p.db.DeletePrefix(recordPrefix(roomID))
	return err
}

// Store memoizes identities per (room, owner). Lookups never fail: when the
// counter is unreachable a random fallback identity is handed out instead.
type Store struct {
	counter    Counter
	records    Records
	roomScoped bool

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	cache  map[string]Result
	epochs map[string]*roomEpoch
	group  singleflight.Group
}

// roomEpoch changes whenever Clear starts or finishes for the room. clearing
// is non-nil while a Clear is in progress and closed when it completes.
type roomEpoch struct {
	n        uint64
	clearing chan struct{}
}

const createAttempts = 3

type Option func(*Store)

// WithRand fixes the random source used for gender and fallback numbers.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) { s.rng = r }
}

// WithRoomScopedRecords keys records by room alone, the single-client
// simulation where one browser owns every identity of a room.
func WithRoomScopedRecords() Option {
	return func(s *Store) { s.roomScoped = true }
}

func NewStore(counter Counter, records Records, opts ...Option) *Store {
	seed := uint64(time.Now().UnixNano())
	s := &Store{
		counter: counter,
		records: records,
		rng:     rand.New(rand.NewPCG(seed, seed>>1|1)),
		cache:   make(map[string]Result),
		epochs:  make(map[string]*roomEpoch),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) recordKey(ownerID string) string {
	if s.roomScoped {
		return ""
	}
	return ownerID
}

func cacheKey(roomID, recordKey string) string {
	return roomID + "\x00" + recordKey
}

// epoch must be called with mu held.
func (s *Store) epoch(roomID string) *roomEpoch {
	e, ok := s.epochs[roomID]
	if !ok {
		e = &roomEpoch{}
		s.epochs[roomID] = e
	}
	return e
}

// Get returns the identity of ownerID in roomID, creating it on first use.
func (s *Store) Get(ctx context.Context, roomID, ownerID string) Result {
	key := cacheKey(roomID, s.recordKey(ownerID))
	if res, ok := s.cached(key); ok {
		return res
	}
	// The result is shared by every waiter, so one caller's cancellation
	// must not turn it into a memoized fallback.
	cctx := context.WithoutCancel(ctx)
	v, _, _ := s.group.Do(key, func() (any, error) {
		return s.resolve(cctx, key, roomID, ownerID), nil
	})
	return v.(Result)
}

// resolve creates and memoizes an identity. A result computed while the room
// was being cleared belongs to the purged room and is recomputed.
func (s *Store) resolve(ctx context.Context, key, roomID, ownerID string) Result {
	var res Result
	for attempt := 0; attempt < createAttempts; attempt++ {
		s.mu.Lock()
		if cached, ok := s.cache[key]; ok {
			s.mu.Unlock()
			return cached
		}
		e := s.epoch(roomID)
		if done := e.clearing; done != nil {
			s.mu.Unlock()
			<-done
			attempt--
			continue
		}
		started := e.n
		s.mu.Unlock()

		res = s.create(ctx, roomID, ownerID)

		s.mu.Lock()
		if e.n != started {
			s.mu.Unlock()
			log.Debug().Str("room", roomID).Str("owner", ownerID).Msg("[identity] room cleared during create; retrying")
			continue
		}
		s.cache[key] = res
		if !res.Fallback {
			// Saved under mu so a Clear cannot start between the epoch check and the write.
			if err := s.records.Save(roomID, s.recordKey(ownerID), res.Identity); err != nil {
				log.Warn().Err(err).Str("room", roomID).Msg("[identity] save record failed")
			}
		}
		s.mu.Unlock()
		return res
	}
	log.Warn().Str("room", roomID).Str("owner", ownerID).Msg("[identity] room kept clearing; identity not memoized")
	return res
}

func (s *Store) cached(key string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.cache[key]
	return res, ok
}

func (s *Store) create(ctx context.Context, roomID, ownerID string) Result {
	if id, ok, err := s.records.Load(roomID, s.recordKey(ownerID)); err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("[identity] load record failed")
	} else if ok {
		return Result{Identity: id}
	}

	seq, err := s.counter.Next(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Str("owner", ownerID).Msg("[identity] counter unavailable; using fallback")
		return Result{Identity: newIdentity(s.randomSequence(), s.gender(), ownerID), Fallback: true}
	}

	id := newIdentity(seq, s.gender(), ownerID)
	log.Debug().Str("room", roomID).Str("owner", ownerID).Str("seq", id.SequenceNumber).Msg("[identity] assigned")
	return Result{Identity: id}
}

func (s *Store) gender() Gender {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return pickGender(s.rng)
}

func (s *Store) randomSequence() int64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return int64(s.rng.IntN(99) + 1)
}

// Clear forgets every identity of roomID and resets its counter. Creations
// that overlap it are discarded and retried once it completes.
func (s *Store) Clear(ctx context.Context, roomID string) error {
	done := make(chan struct{})
	s.mu.Lock()
	e := s.epoch(roomID)
	for e.clearing != nil {
		prev := e.clearing
		s.mu.Unlock()
		<-prev
		s.mu.Lock()
		e = s.epoch(roomID)
	}
	e.n++
	e.clearing = done
	s.forget(roomID)
	s.mu.Unlock()

	err := errors.Join(s.records.Clear(roomID), s.counter.Reset(ctx, roomID))

	s.mu.Lock()
	e.n++
	e.clearing = nil
	s.forget(roomID)
	// Creations still holding e see the bumped count; new ones start afresh.
	delete(s.epochs, roomID)
	s.mu.Unlock()
	close(done)
	return err
}

// forget must be called with mu held.
func (s *Store) forget(roomID string) {
	prefix := roomID + "\x00"
	for k := range s.cache {
		if strings.HasPrefix(k, prefix) {
			delete(s.cache, k)
		}
	}
}
