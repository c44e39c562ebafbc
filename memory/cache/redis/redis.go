// Package redis implements the recent-context cache on Redis lists. Each
// owner gets one bounded list holding their newest records, so the cheap
// context path is a single LRANGE away.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariabot/aria-core/memory"
)

// Cache keeps a capped, newest-first list of records per owner.
type Cache struct {
	client *redis.Client
	size   int64
	ttl    time.Duration
}

// New creates a cache on the given client. size caps each owner's list;
// ttl expires an owner's list after that long without a write.
func New(client *redis.Client, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 20
	}
	return &Cache{client: client, size: int64(size), ttl: ttl}
}

func ownerKey(owner string) string {
	return "memory:recent:" + owner
}

// cachedRecord is the wire form. Embeddings are deliberately omitted;
// the cheap path never needs them and they dominate record size.
type cachedRecord struct {
	ID         string                 `json:"id"`
	Text       string                 `json:"text"`
	Kind       memory.InteractionKind `json:"kind"`
	Importance float64                `json:"importance"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Push prepends the record to the owner's list, trims to the cap, and
// refreshes the TTL, all in one round trip.
func (c *Cache) Push(ctx context.Context, owner string, rec *memory.Record) error {
	payload, err := json.Marshal(cachedRecord{
		ID:         rec.ID,
		Text:       rec.Text,
		Kind:       rec.Kind,
		Importance: rec.Importance,
		CreatedAt:  rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	key := ownerKey(owner)
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, c.size-1)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push record: %w", err)
	}
	return nil
}

// Recent returns up to limit of the owner's newest records, newest first.
func (c *Cache) Recent(ctx context.Context, owner string, limit int) ([]memory.Record, error) {
	raws, err := c.client.LRange(ctx, ownerKey(owner), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange: %w", err)
	}

	recs := make([]memory.Record, 0, len(raws))
	for _, raw := range raws {
		var cr cachedRecord
		if err := json.Unmarshal([]byte(raw), &cr); err != nil {
			continue
		}
		recs = append(recs, memory.Record{
			ID:         cr.ID,
			Owner:      owner,
			Text:       cr.Text,
			Kind:       cr.Kind,
			Importance: cr.Importance,
			CreatedAt:  cr.CreatedAt,
		})
	}
	return recs, nil
}

// EraseOwner deletes the owner's list.
func (c *Cache) EraseOwner(ctx context.Context, owner string) error {
	if err := c.client.Del(ctx, ownerKey(owner)).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
