package identity

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gosuda/portal-chat/anon-chat/storage"
)

// Counter hands out per-room sequence numbers starting at 1. Next must be
// atomic at the storage layer for concurrent joiners to get distinct numbers.
type Counter interface {
	Next(ctx context.Context, roomID string) (int64, error)
	Reset(ctx context.Context, roomID string) error
}

// PebbleCounter keeps counters in the shared Pebble store.
type PebbleCounter struct {
	db *storage.DB
}

func NewPebbleCounter(db *storage.DB) *PebbleCounter {
	return &PebbleCounter{db: db}
}

func counterKey(roomID string) []byte {
	return []byte("counter/" + roomID)
}

func (c *PebbleCounter) Next(_ context.Context, roomID string) (int64, error) {
	var next uint64
	err := c.db.Update(counterKey(roomID), func(cur []byte) ([]byte, error) {
		if len(cur) == 8 {
			next = binary.BigEndian.Uint64(cur)
		}
		next++
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, next)
		return out, nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}
	return int64(next), nil
}

func (c *PebbleCounter) Reset(_ context.Context, roomID string) error {
	return c.db.Delete(counterKey(roomID))
}

// RedisCounter uses INCR, which is atomic across every client of the server.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) key(roomID string) string {
	return c.prefix + "counter:" + roomID
}

func (c *RedisCounter) Next(ctx context.Context, roomID string) (int64, error) {
	n, err := c.client.Incr(ctx, c.key(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

func (c *RedisCounter) Reset(ctx context.Context, roomID string) error {
	return c.client.Del(ctx, c.key(roomID)).Err()
}
