package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"payout-core/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// DedupStatus is the outcome of registering an inbound event id.
type DedupStatus string

const (
	// DedupNew means the event id has not been seen before.
	DedupNew DedupStatus = "new"
	// DedupDuplicate means the same event was delivered again; processing
	// is skipped after recording that the duplicate was observed.
	DedupDuplicate DedupStatus = "duplicate"
	// DedupConflict means the event id was replayed with a different
	// payload. That is a data-integrity error and is never silently
	// resolved.
	DedupConflict DedupStatus = "conflict"
)

// EventDedup detects webhook replays. Processors deliver at-least-once,
// so every externally supplied event id is registered here (with a hash
// of its payload) before any state changes.
type EventDedup struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEventDedup creates a dedup service over Redis. Seen event ids are
// kept for the given TTL; replays arrive within minutes in practice.
func NewEventDedup(client *redis.Client, ttl time.Duration) *EventDedup {
	return &EventDedup{client: client, ttl: ttl}
}

// Check registers an event id and classifies it.
func (d *EventDedup) Check(ctx context.Context, processor, eventID string, payload []byte) (DedupStatus, error) {
	key := fmt.Sprintf("processor_event:%s:%s", processor, eventID)
	hash := PayloadHash(payload)

	set, err := d.client.SetNX(ctx, key, hash, d.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to register event id: %w", err)
	}
	if set {
		return DedupNew, nil
	}

	existing, err := d.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			// Expired between SetNX and Get; treat as a duplicate, the
			// transaction event log is the durable backstop.
			return DedupDuplicate, nil
		}
		return "", err
	}
	if existing != hash {
		logging.Errorf("Event replay with conflicting payload - processor: %s, event: %s", processor, eventID)
		return DedupConflict, nil
	}

	logging.Infof("Duplicate event dropped - processor: %s, event: %s", processor, eventID)
	return DedupDuplicate, nil
}

// PayloadHash returns the canonical SHA-256 hex digest of a payload
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// RedisGuard implements the exactly-once gate used in front of ledger
// postings. Begin returns true only for the first caller of a key.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a guard with the given key retention
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

// Begin claims an idempotency key
func (g *RedisGuard) Begin(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, "ledger_post:"+key, "1", g.ttl).Result()
}

// Release returns a claimed key after a failed posting
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, "ledger_post:"+key).Err()
}
