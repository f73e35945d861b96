package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"forgeline.dev/bridge/common/logger"
)

const killSwitchKey = "bridge:automation:disabled"

// KillSwitch is the runtime toggle observable by all request handlers.
// Backed by the shared key-value store so every server instance sees
// the same value, with the last known state as a local fallback when
// the store is unreachable.
type KillSwitch interface {
	Disabled(ctx context.Context) bool
	SetDisabled(ctx context.Context, disabled bool) error
}

// FlagStore is the minimal key-value surface the kill switch needs.
type FlagStore interface {
	// Get returns the flag value and whether the key exists.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

type killSwitch struct {
	store     FlagStore
	lastKnown atomic.Bool
}

func NewKillSwitch(store FlagStore) KillSwitch {
	return &killSwitch{store: store}
}

func (k *killSwitch) Disabled(ctx context.Context) bool {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "bridge.killswitch"})

	value, found, err := k.store.Get(ctx, killSwitchKey)
	if err != nil {
		// Store unreachable: fall back to the last state this instance
		// observed rather than flapping.
		last := k.lastKnown.Load()
		slog.ErrorContext(ctx, "kill switch store error, using last known state",
			"error", err,
			"disabled", last,
		)
		return last
	}

	disabled := found && value == "true"
	k.lastKnown.Store(disabled)
	return disabled
}

func (k *killSwitch) SetDisabled(ctx context.Context, disabled bool) error {
	value := "false"
	if disabled {
		value = "true"
	}
	if err := k.store.Set(ctx, killSwitchKey, value); err != nil {
		return err
	}
	k.lastKnown.Store(disabled)
	return nil
}

type redisFlagStore struct {
	client *redis.Client
}

func NewRedisFlagStore(client *redis.Client) FlagStore {
	return &redisFlagStore{client: client}
}

func (s *redisFlagStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *redisFlagStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}
