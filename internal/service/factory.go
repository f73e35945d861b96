package service

import (
	"time"

	"github.com/redis/go-redis/v9"

	"forgeline.dev/bridge/core/config"
	"forgeline.dev/bridge/internal/platform"
	"forgeline.dev/bridge/internal/ratelimit"
	"forgeline.dev/bridge/internal/store"
)

type Services struct {
	matcher    *TriggerMatcher
	killSwitch KillSwitch
	dispatcher Dispatcher
}

type ServicesConfig struct {
	Trigger     config.TriggerConfig
	RateLimit   config.RateLimitConfig
	Pipeline    config.PipelineConfig
	Redis       *redis.Client
	Platform    platform.Client
	DispatchLog store.DispatchLogStore
}

func NewServices(cfg ServicesConfig) *Services {
	matcher := NewTriggerMatcher(cfg.Trigger.Phrase)
	killSwitch := NewKillSwitch(NewRedisFlagStore(cfg.Redis))
	limiter := ratelimit.New(cfg.Redis, ratelimit.Config{
		Enabled:     cfg.RateLimit.Enabled,
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
	})
	aggregator := NewDiscussionAggregator(cfg.Platform)

	dispatcher := NewDispatcher(
		matcher,
		killSwitch,
		limiter,
		cfg.Platform,
		aggregator,
		cfg.DispatchLog,
		DispatcherConfig{
			BranchPrefix: cfg.Trigger.BranchPrefix,
			Model:        cfg.Trigger.Model,
			CancelStale:  cfg.Pipeline.CancelStale,
		},
	)

	return &Services{
		matcher:    matcher,
		killSwitch: killSwitch,
		dispatcher: dispatcher,
	}
}

func (s *Services) KillSwitch() KillSwitch {
	return s.killSwitch
}

func (s *Services) Dispatcher() Dispatcher {
	return s.dispatcher
}
