package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"forgeline.dev/bridge/common/logger"
)

type Config struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
}

// Limiter admits or denies a dispatch for a given key. Admission is
// advisory: on store failure the limiter fails open, because losing a
// trigger is worse than occasionally exceeding quota.
type Limiter interface {
	Admit(ctx context.Context, key string) bool
}

// Store is the minimal sorted-set surface the sliding window needs.
// Extracted so tests can run against an in-memory fake.
type Store interface {
	PruneBefore(ctx context.Context, key string, before int64) error
	Count(ctx context.Context, key string) (int64, error)
	Add(ctx context.Context, key string, score int64, member string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// New returns a sliding-window limiter over the given redis client, or
// an unlimited no-op limiter when rate limiting is disabled.
func New(client *redis.Client, cfg Config) Limiter {
	if !cfg.Enabled {
		return unlimited{}
	}
	return NewSlidingWindow(NewRedisStore(client), cfg)
}

type unlimited struct{}

func (unlimited) Admit(context.Context, string) bool { return true }

type SlidingWindow struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewSlidingWindow builds a limiter over an explicit store. Exported
// for tests; production code goes through New.
func NewSlidingWindow(store Store, cfg Config) *SlidingWindow {
	return &SlidingWindow{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// SetClock overrides the limiter's clock. Test hook only.
func (l *SlidingWindow) SetClock(now func() time.Time) {
	l.now = now
}

// Admit prunes expired entries for key, counts the remainder, and
// inserts a new entry if under quota. The prune-count-insert sequence
// is not atomic: concurrent bursts on one key can admit a few over the
// limit, which is acceptable for this gate.
func (l *SlidingWindow) Admit(ctx context.Context, key string) bool {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "bridge.ratelimit"})

	now := l.now().Unix()
	windowSeconds := int64(l.cfg.Window / time.Second)

	if err := l.store.PruneBefore(ctx, key, now-windowSeconds); err != nil {
		return l.failOpen(ctx, key, err)
	}

	count, err := l.store.Count(ctx, key)
	if err != nil {
		return l.failOpen(ctx, key, err)
	}

	if count >= int64(l.cfg.MaxRequests) {
		slog.WarnContext(ctx, "rate limit exceeded", "key", key, "count", count, "max", l.cfg.MaxRequests)
		return false
	}

	// Random suffix so multiple admits within the same second stay
	// distinct zset members.
	member := fmt.Sprintf("%d-%d", now, rand.Int63())
	if err := l.store.Add(ctx, key, now, member); err != nil {
		return l.failOpen(ctx, key, err)
	}
	if err := l.store.Expire(ctx, key, l.cfg.Window); err != nil {
		return l.failOpen(ctx, key, err)
	}

	return true
}

func (l *SlidingWindow) failOpen(ctx context.Context, key string, err error) bool {
	slog.ErrorContext(ctx, "rate limit store error, failing open", "key", key, "error", err)
	return true
}

type redisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) PruneBefore(ctx context.Context, key string, before int64) error {
	return s.client.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(before, 10)).Err()
}

func (s *redisStore) Count(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

func (s *redisStore) Add(ctx context.Context, key string, score int64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member}).Err()
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}
