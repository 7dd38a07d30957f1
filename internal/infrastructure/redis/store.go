package redisinfra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-trustgate/internal/domain"
	"github.com/redis/go-redis/v9"
)

// incrementScript bumps a counter and arms its expiry only when the window
// opens (or when a previous writer died between INCR and PEXPIRE), so later
// hits never extend the window.
// KEYS[1] = counter key, ARGV[1] = window in milliseconds.
var incrementScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Store is the shared keyed store: counters and flags with TTLs, visible to
// every instance. Every call is bounded by the store's op timeout; a timeout
// is reported as ErrBackendUnavailable like any other failure.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

func NewStore(client redis.UniversalClient, prefix string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Store{client: client, prefix: prefix, timeout: timeout}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("increment", err)
	}
	return n, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n > 0, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
		return unavailable("expire", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("redis %s timed out: %w", op, domain.ErrBackendUnavailable)
	}
	return fmt.Errorf("redis %s: %w: %v", op, domain.ErrBackendUnavailable, err)
}
