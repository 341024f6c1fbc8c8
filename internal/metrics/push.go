package metrics

import (
	"context"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgelight/edgelight/internal/deliver"
	"github.com/edgelight/edgelight/internal/eventbus"
)

// PushTarget is an external endpoint that receives encoded snapshots on
// every push cycle.
type PushTarget struct {
	Name   string             `yaml:"name"`
	URL    string             `yaml:"url"`
	Format string             `yaml:"format"` // prometheus, json, or otel
	Auth   deliver.AuthConfig `yaml:"auth"`
}

// PushResult is the payload published on eventbus.TopicPushResult, one per
// target per cycle.
type PushResult struct {
	Target   string
	Duration time.Duration
	Err      error
}

// AddPushTarget registers or replaces a push target, keyed by name.
func (r *Registry) AddPushTarget(t PushTarget) {
	r.mu.Lock()
	r.targets[t.Name] = t
	r.mu.Unlock()
}

// RemovePushTarget deletes the target with the given name.
func (r *Registry) RemovePushTarget(name string) {
	r.mu.Lock()
	delete(r.targets, name)
	r.mu.Unlock()
}

// Push runs a collection cycle and delivers the encoded snapshot to every
// registered target concurrently. Each target's outcome is reported as its
// own PushResult; one failing or slow target never blocks or fails another.
func (r *Registry) Push(ctx context.Context) []PushResult {
	r.Collect(ctx)

	r.mu.RLock()
	targets := slices.Collect(maps.Values(r.targets))
	r.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	results := make([]PushResult, len(targets))
	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			results[i] = r.pushOne(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Err != nil {
			r.logger.Warn("metrics: push failed", "target", res.Target, "error", res.Err)
		}
		r.bus.Publish(eventbus.TopicPushResult, res)
	}
	return results
}

func (r *Registry) pushOne(ctx context.Context, target PushTarget) PushResult {
	start := r.clock.Now()
	body, err := r.Encode(target.Format)
	if err == nil {
		err = r.sender.Send(ctx, target.URL, ContentTypeFor(target.Format), body, target.Auth)
	}
	return PushResult{
		Target:   target.Name,
		Duration: r.clock.Now().Sub(start),
		Err:      err,
	}
}
