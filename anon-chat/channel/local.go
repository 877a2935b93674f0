package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gosuda/portal-chat/anon-chat/storage"
)

// Local keeps every message of a room as one ordered list under a room-scoped
// key. There is no fan-out; senders render their own messages.
type Local struct {
	db *storage.DB
}

func NewLocal(db *storage.DB) *Local {
	return &Local{db: db}
}

func localKey(roomID string) []byte {
	return []byte("local/" + roomID + "/messages")
}

func (l *Local) FetchHistory(_ context.Context, roomID string) ([]Message, error) {
	raw, err := l.db.Get(localKey(roomID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode room list: %w", err)
	}
	return msgs, nil
}

func (l *Local) Send(_ context.Context, m Message) error {
	return l.db.Update(localKey(m.RoomID), func(cur []byte) ([]byte, error) {
		var msgs []Message
		if cur != nil {
			if err := json.Unmarshal(cur, &msgs); err != nil {
				return nil, fmt.Errorf("decode room list: %w", err)
			}
		}
		return json.Marshal(append(msgs, m))
	})
}

func (l *Local) Purge(ctx context.Context, roomID string) (int, error) {
	msgs, err := l.FetchHistory(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if err := l.db.Delete(localKey(roomID)); err != nil {
		return 0, err
	}
	return len(msgs), nil
}
