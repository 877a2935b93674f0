package identity

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/portal-chat/anon-chat/storage"
)

func newPebbleStore(t *testing.T, opts ...Option) (*Store, *storage.DB) {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	return NewStore(NewPebbleCounter(db), NewPebbleRecords(db), opts...), db
}

type failingCounter struct{ calls atomic.Int32 }

func (f *failingCounter) Next(context.Context, string) (int64, error) {
	f.calls.Add(1)
	return 0, errors.New("counter offline")
}

func (f *failingCounter) Reset(context.Context, string) error { return nil }

func TestGenderMapping(t *testing.T) {
	require.Equal(t, "🔵🐑", AvatarFor(Male))
	require.Equal(t, "#1890FF", ColorFor(Male))
	require.Equal(t, "🌸🐑", AvatarFor(Female))
	require.Equal(t, "#FF69B4", ColorFor(Female))
	for i := 0; i < 3; i++ {
		require.Equal(t, AvatarFor(Female), AvatarFor(Female))
	}
}

func TestFormatSequence(t *testing.T) {
	require.Equal(t, "01", FormatSequence(1))
	require.Equal(t, "42", FormatSequence(42))
	require.Equal(t, "100", FormatSequence(100))
}

func TestSequentialOwnersGetIncreasingNumbers(t *testing.T) {
	s, _ := newPebbleStore(t)
	ctx := context.Background()

	first := s.Get(ctx, "general", "owner-a")
	second := s.Get(ctx, "general", "owner-b")
	other := s.Get(ctx, "game", "owner-a")

	require.False(t, first.Fallback)
	require.Equal(t, "01", first.Identity.SequenceNumber)
	require.Equal(t, "02", second.Identity.SequenceNumber)
	require.Equal(t, "01", other.Identity.SequenceNumber)
	require.Equal(t, "owner-b", second.Identity.OwnerID)
	require.Equal(t, AvatarFor(first.Identity.Gender), first.Identity.Avatar)
	require.Equal(t, ColorFor(first.Identity.Gender), first.Identity.Color)
}

func TestGetIsIdempotent(t *testing.T) {
	s, db := newPebbleStore(t)
	ctx := context.Background()

	a := s.Get(ctx, "general", "owner-a")
	b := s.Get(ctx, "general", "owner-a")
	require.Equal(t, a, b)

	// A fresh store over the same database reads the persisted record back.
	again := NewStore(NewPebbleCounter(db), NewPebbleRecords(db)).Get(ctx, "general", "owner-a")
	require.Equal(t, a.Identity, again.Identity)
	next := NewStore(NewPebbleCounter(db), NewPebbleRecords(db)).Get(ctx, "general", "owner-z")
	require.Equal(t, "02", next.Identity.SequenceNumber)
}

func TestConcurrentFirstLookupIncrementsOnce(t *testing.T) {
	s, _ := newPebbleStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Result, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Get(ctx, "general", "owner-a")
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		require.Equal(t, results[0], r)
	}
	require.Equal(t, "02", s.Get(ctx, "general", "owner-b").Identity.SequenceNumber)
}

func TestDistinctOwnersGetDistinctNumbersConcurrently(t *testing.T) {
	s, _ := newPebbleStore(t)
	ctx := context.Background()

	owners := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]string{}
	)
	for _, o := range owners {
		wg.Add(1)
		go func(o string) {
			defer wg.Done()
			seq := s.Get(ctx, "general", o).Identity.SequenceNumber
			mu.Lock()
			seen[seq] = o
			mu.Unlock()
		}(o)
	}
	wg.Wait()
	require.Len(t, seen, len(owners))
}

func TestFallbackWhenCounterFails(t *testing.T) {
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	defer db.Close()
	counter := &failingCounter{}
	s := NewStore(counter, NewPebbleRecords(db))
	ctx := context.Background()

	res := s.Get(ctx, "general", "owner-a")
	require.True(t, res.Fallback)
	require.Len(t, res.Identity.SequenceNumber, 2)
	require.NotEqual(t, "00", res.Identity.SequenceNumber)
	require.Equal(t, AvatarFor(res.Identity.Gender), res.Identity.Avatar)

	// Memoized in memory, never persisted.
	require.Equal(t, res, s.Get(ctx, "general", "owner-a"))
	require.Equal(t, int32(1), counter.calls.Load())
	_, ok, err := NewPebbleRecords(db).Load("general", "owner-a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRoomScopedRecordsShareOneIdentity(t *testing.T) {
	s, _ := newPebbleStore(t, WithRoomScopedRecords())
	ctx := context.Background()

	a := s.Get(ctx, "general", "owner-a")
	b := s.Get(ctx, "general", "owner-b")
	require.Equal(t, a.Identity, b.Identity)
	require.Equal(t, "01", a.Identity.SequenceNumber)
}

func TestClearResetsRoom(t *testing.T) {
	s, _ := newPebbleStore(t)
	ctx := context.Background()

	s.Get(ctx, "general", "owner-a")
	s.Get(ctx, "general", "owner-b")
	s.Get(ctx, "game", "owner-a")
	require.NoError(t, s.Clear(ctx, "general"))

	require.Equal(t, "01", s.Get(ctx, "general", "owner-b").Identity.SequenceNumber)
	require.Equal(t, "02", s.Get(ctx, "game", "owner-b").Identity.SequenceNumber)
}

func TestRoomScopedRecordKey(t *testing.T) {
	s, db := newPebbleStore(t, WithRoomScopedRecords())
	s.Get(context.Background(), "general", "owner-a")

	_, err := db.Get([]byte("identity/general/"))
	require.NoError(t, err)
	_, err = db.Get([]byte("identity/general/owner-a"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// gatedCounter blocks the first Next after arming, past the increment,
// until released.
type gatedCounter struct {
	Counter
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCounter) Next(ctx context.Context, roomID string) (int64, error) {
	n, err := g.Counter.Next(ctx, roomID)
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return n, err
}

func TestClearDuringCreateDiscardsStaleResult(t *testing.T) {
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	records := NewPebbleRecords(db)
	gate := &gatedCounter{Counter: NewPebbleCounter(db), entered: make(chan struct{}), release: make(chan struct{})}
	s := NewStore(gate, records)
	require.Equal(t, "01", s.Get(ctx, "general", "owner-a").Identity.SequenceNumber)

	gate.armed.Store(true)

	got := make(chan Result, 1)
	go func() { got <- s.Get(ctx, "general", "owner-b") }()
	<-gate.entered
	require.NoError(t, s.Clear(ctx, "general"))
	close(gate.release)

	b := <-got
	require.Equal(t, "01", b.Identity.SequenceNumber, "number taken before the clear is not kept")
	stored, ok, err := records.Load("general", "owner-b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.Identity, stored)

	require.Equal(t, "02", s.Get(ctx, "general", "owner-a").Identity.SequenceNumber)
}

func TestCancelledCallerDoesNotPinFallback(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db, err := storage.OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(NewRedisCounter(client, "anonchat:"), NewPebbleRecords(db))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.Get(ctx, "general", "owner-a")
	require.False(t, res.Fallback)
	require.Equal(t, "01", res.Identity.SequenceNumber)
	require.Equal(t, res, s.Get(context.Background(), "general", "owner-a"))
}

func TestRedisCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db, err := storage.OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	counter := NewRedisCounter(client, "anonchat:")
	s := NewStore(counter, NewPebbleRecords(db))
	ctx := context.Background()

	require.Equal(t, "01", s.Get(ctx, "general", "owner-a").Identity.SequenceNumber)
	require.Equal(t, "02", s.Get(ctx, "general", "owner-b").Identity.SequenceNumber)
	v, err := mr.Get("anonchat:counter:general")
	require.NoError(t, err)
	require.Equal(t, "2", v)

	require.NoError(t, counter.Reset(ctx, "general"))
	require.False(t, mr.Exists("anonchat:counter:general"))

	mr.Close()
	res := s.Get(ctx, "general", "owner-c")
	require.True(t, res.Fallback)
}
