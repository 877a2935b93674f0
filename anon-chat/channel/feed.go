package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/gosuda/portal-chat/anon-chat/storage"
)

const DefaultHistoryLimit = 50

// Feed persists messages under time-ordered keys and pushes every stored
// message to the subscribers of its room.
type Feed struct {
	db    *storage.DB
	limit int

	mu     sync.RWMutex
	subs   map[string]map[uint64]func(Message)
	nextID uint64
}

func NewFeed(db *storage.DB, historyLimit int) *Feed {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Feed{
		db:    db,
		limit: historyLimit,
		subs:  make(map[string]map[uint64]func(Message)),
	}
}

func feedPrefix(roomID string) []byte {
	return []byte("msg/" + roomID + "/")
}

// feedKey sorts by creation time; the uuid separates messages created in the
// same nanosecond.
func feedKey(m Message) []byte {
	return []byte(fmt.Sprintf("msg/%s/%020d/%s", m.RoomID, m.CreatedAt.UnixNano(), m.ID))
}

// Recent returns up to n newest messages of the room, newest first.
func (f *Feed) Recent(_ context.Context, roomID string, n int) ([]Message, error) {
	out := make([]Message, 0, n)
	var decodeErr error
	err := f.db.ScanReverse(feedPrefix(roomID), func(_, value []byte) bool {
		var m Message
		if err := json.Unmarshal(value, &m); err != nil {
			decodeErr = err
			return false
		}
		out = append(out, m)
		return len(out) < n
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode message: %w", decodeErr)
	}
	return out, nil
}

// FetchHistory returns the newest messages in chronological order.
func (f *Feed) FetchHistory(ctx context.Context, roomID string) ([]Message, error) {
	msgs, err := f.Recent(ctx, roomID, f.limit)
	if err != nil {
		return nil, err
	}
	return lo.Reverse(msgs), nil
}

func (f *Feed) Send(_ context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := f.db.Set(feedKey(m), raw); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	f.publish(m)
	return nil
}

func (f *Feed) publish(m Message) {
	f.mu.RLock()
	fns := lo.Values(f.subs[m.RoomID])
	f.mu.RUnlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (f *Feed) Subscribe(roomID string, fn func(Message)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.subs[roomID] == nil {
		f.subs[roomID] = make(map[uint64]func(Message))
	}
	f.subs[roomID][id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[roomID], id)
			if len(f.subs[roomID]) == 0 {
				delete(f.subs, roomID)
			}
		})
	}
}

func (f *Feed) Purge(_ context.Context, roomID string) (int, error) {
	n, err := f.db.DeletePrefix(feedPrefix(roomID))
	if err != nil {
		return 0, fmt.Errorf("purge room %s: %w", roomID, err)
	}
	log.Debug().Str("room", roomID).Int("messages", n).Msg("[feed] purged")
	return n, nil
}
