package main

import (
	"time"

	"github.com/user/modelgate/internal/config"
	"github.com/user/modelgate/internal/costtrack"
	"github.com/user/modelgate/pkg/llm"
	"github.com/user/modelgate/pkg/llm/policy"
)

// stack bundles the dispatcher and the composed policy chains built from
// one config.
type stack struct {
	registry *llm.Registry
	tracker  *costtrack.Tracker
	complete policy.CompleteFunc
	stream   policy.StreamFunc
}

// buildStack wires registry -> dispatcher -> policy wrappers. Fallback is
// only composed in when the config lists targets; explicit provider flags
// bypass it via useFallback=false.
func buildStack(cfg *config.Config, useFallback bool) (*stack, error) {
	registry, err := config.BuildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	dispatcher := llm.NewDispatcher(registry,
		llm.WithMaxInFlight(int64(cfg.MaxInFlight)),
	)
	tracker := costtrack.New(cfg.Pricing)
	retry := cfg.RetryPolicy()
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second

	completeMws := []policy.Middleware{
		policy.Cost(tracker.Rate, tracker.Record),
	}
	streamMws := []policy.StreamMiddleware{}

	if useFallback && len(cfg.Fallback) > 0 {
		completeMws = append(completeMws, policy.Fallback(cfg.Fallback))
		streamMws = append(streamMws, policy.FallbackStream(cfg.Fallback))
	}
	completeMws = append(completeMws,
		policy.Retry(retry),
		policy.Timeout(timeout),
	)
	streamMws = append(streamMws,
		policy.RetryStream(retry),
		policy.StreamTimeout(timeout),
	)

	return &stack{
		registry: registry,
		tracker:  tracker,
		complete: policy.Chain(completeMws...)(dispatcher.Complete),
		stream:   policy.ChainStream(streamMws...)(dispatcher.Stream),
	}, nil
}
