// Package blocklist provides client blocking backed by Redis. Clients that
// repeatedly submit screened content are blocked for escalating durations.
// Records are plain key-value pairs with TTL expiry:
//
//	Key:   block:<client>
//	Value: <reason>
//	TTL:   block duration
package blocklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BlockPrefix is the Redis key prefix for block records.
	BlockPrefix = "block:"

	// ViolationsPrefix is the Redis key prefix for violation counters.
	ViolationsPrefix = "violations:"

	// Escalating block durations.
	Block15Min  = 15 * time.Minute // up to threshold
	Block1Hour  = 1 * time.Hour    // threshold + 1
	Block24Hour = 24 * time.Hour   // beyond that

	// ViolationsTTL is how long the violation counter lives. A quiet 24h
	// resets the counter to zero.
	ViolationsTTL = 24 * time.Hour

	// AutoBlockThreshold is the number of violations within ViolationsTTL
	// that triggers an automatic block.
	AutoBlockThreshold = 3
)

// Store manages block records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a block store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBlocked checks whether a client is currently blocked. Returns the
// remaining seconds and reason when it is. Redis errors are returned so
// callers can choose their policy; failing open is the recommended one.
func (s *Store) IsBlocked(ctx context.Context, client string) (bool, int, string, error) {
	key := BlockPrefix + client

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The block exists but the TTL read failed. Report blocked with 0
		// remaining rather than swallowing the block.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}
	return true, remaining, reason, nil
}

// Block blocks a client for the given duration. The block expires on its own.
func (s *Store) Block(ctx context.Context, client string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, BlockPrefix+client, reason, duration).Err()
}

// Unblock lifts a block immediately.
func (s *Store) Unblock(ctx context.Context, client string) error {
	return s.client.Del(ctx, BlockPrefix+client).Err()
}

// escalationDuration returns the block duration for a violation count.
func escalationDuration(count int) time.Duration {
	switch {
	case count <= AutoBlockThreshold:
		return Block15Min
	case count == AutoBlockThreshold+1:
		return Block1Hour
	default:
		return Block24Hour
	}
}

// ViolationCount returns the client's current violation counter, 0 if none
// is recorded or the counter has expired.
func (s *Store) ViolationCount(ctx context.Context, client string) (int, error) {
	val, err := s.client.Get(ctx, ViolationsPrefix+client).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// RecordViolation increments the client's violation counter and, once the
// counter reaches the auto-block threshold, applies a block whose duration
// escalates with further violations. The counter's TTL is set only on the
// first increment so the 24h window does not slide.
//
// Returns whether a block was applied and for how long.
func (s *Store) RecordViolation(ctx context.Context, client, reason string) (bool, time.Duration, error) {
	key := ViolationsPrefix + client

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("blocklist: violation incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, ViolationsTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("blocklist: violation expire: %w", err)
		}
	}

	if count >= AutoBlockThreshold {
		duration := escalationDuration(int(count))
		if err := s.Block(ctx, client, duration, reason); err != nil {
			return false, 0, fmt.Errorf("blocklist: violation block: %w", err)
		}
		return true, duration, nil
	}
	return false, 0, nil
}
