// Package redis provides a Redis-backed StateStore for rewriter.
//
// Counts live in one hash per day and quarantined credentials in one set
// per day, so several processes can share the pool safely. Increments are
// atomic HINCRBY calls; an optional retention sets a TTL on both keys.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/rewriter"
)

// Store is a Redis-backed StateStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	retention time.Duration
}

var _ rewriter.StateStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "rewriter:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithRetention expires day keys d after their last write. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// New creates a new Redis-backed StateStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "rewriter:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) usageKey(day rewriter.Day) string {
	return s.keyPrefix + "usage:" + string(day)
}

func (s *Store) quarantineKey(day rewriter.Day) string {
	return s.keyPrefix + "quarantine:" + string(day)
}

// incrScript increments a credential count and refreshes the key TTL.
// KEYS[1] = usage hash key
// ARGV[1] = credential
// ARGV[2] = ttl seconds (0 = none)
var incrScript = goredis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
local ttl = tonumber(ARGV[2])
if ttl > 0 then
    redis.call("EXPIRE", KEYS[1], ttl)
end
return n
`)

// addScript adds a credential to the quarantine set and refreshes the key TTL.
// KEYS[1] = quarantine set key
// ARGV[1] = credential
// ARGV[2] = ttl seconds (0 = none)
var addScript = goredis.NewScript(`
redis.call("SADD", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
    redis.call("EXPIRE", KEYS[1], ttl)
end
return 1
`)

func (s *Store) ttlSeconds() int64 {
	return int64(s.retention / time.Second)
}

// RecordSuccess increments the count for credential on day.
func (s *Store) RecordSuccess(ctx context.Context, day rewriter.Day, credential rewriter.Credential) error {
	err := incrScript.Run(ctx, s.client,
		[]string{s.usageKey(day)},
		string(credential), s.ttlSeconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("rewriter/redis: record success: %w", err)
	}
	return nil
}

// DailyCount returns the count for credential on day.
func (s *Store) DailyCount(ctx context.Context, day rewriter.Day, credential rewriter.Credential) (int64, error) {
	v, err := s.client.HGet(ctx, s.usageKey(day), string(credential)).Result()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rewriter/redis: daily count: %w", err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rewriter/redis: daily count: parse %q: %w", v, err)
	}
	return n, nil
}

// Counts returns every count recorded on day.
func (s *Store) Counts(ctx context.Context, day rewriter.Day) (map[rewriter.Credential]int64, error) {
	vals, err := s.client.HGetAll(ctx, s.usageKey(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("rewriter/redis: counts: %w", err)
	}
	out := make(map[rewriter.Credential]int64, len(vals))
	for k, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rewriter/redis: counts: parse %q: %w", v, err)
		}
		out[rewriter.Credential(k)] = n
	}
	return out, nil
}

// Quarantine disables credential for day.
func (s *Store) Quarantine(ctx context.Context, day rewriter.Day, credential rewriter.Credential) error {
	err := addScript.Run(ctx, s.client,
		[]string{s.quarantineKey(day)},
		string(credential), s.ttlSeconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("rewriter/redis: quarantine: %w", err)
	}
	return nil
}

// IsQuarantined reports whether credential is disabled on day.
func (s *Store) IsQuarantined(ctx context.Context, day rewriter.Day, credential rewriter.Credential) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.quarantineKey(day), string(credential)).Result()
	if err != nil {
		return false, fmt.Errorf("rewriter/redis: is quarantined: %w", err)
	}
	return ok, nil
}

// Quarantined returns the credentials disabled on day, sorted.
func (s *Store) Quarantined(ctx context.Context, day rewriter.Day) ([]rewriter.Credential, error) {
	members, err := s.client.SMembers(ctx, s.quarantineKey(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("rewriter/redis: quarantined: %w", err)
	}
	sort.Strings(members)
	out := make([]rewriter.Credential, len(members))
	for i, m := range members {
		out[i] = rewriter.Credential(m)
	}
	return out, nil
}
