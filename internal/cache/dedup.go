// Package cache provides a best-effort redis cache of recently processed
// message IDs. It only short-circuits the duplicate lookup; the unique
// constraint on login_tracking_result.message_id stays authoritative, so a
// cache miss or a redis outage never affects correctness.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Dedup struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDedup(rdb *redis.Client, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Dedup{rdb: rdb, ttl: ttl}
}

func (d *Dedup) key(messageID uuid.UUID) string {
	return "logproc:msg:" + messageID.String()
}

// Seen reports whether the message ID was recently processed. Errors are
// swallowed: redis being down is treated as "not seen".
func (d *Dedup) Seen(ctx context.Context, messageID uuid.UUID) bool {
	if d == nil || d.rdb == nil {
		return false
	}
	n, err := d.rdb.Exists(ctx, d.key(messageID)).Result()
	return err == nil && n > 0
}

// Mark records the message ID with the configured TTL, best effort.
func (d *Dedup) Mark(ctx context.Context, messageID uuid.UUID) {
	if d == nil || d.rdb == nil {
		return
	}
	_ = d.rdb.Set(ctx, d.key(messageID), 1, d.ttl).Err()
}
