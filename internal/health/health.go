// Package health runs registered health probes and periodic system
// diagnostics, and evaluates alert rules against them with cooldown-based
// deduplication.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgelight/edgelight/internal/eventbus"
	"github.com/edgelight/edgelight/internal/sched"
)

// Status is a health tier.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Check is a named asynchronous health probe.
type Check struct {
	Name     string
	Category string

	// Execute runs the probe. A returned error, or a panic, yields a
	// critical result carrying the error detail in metadata.
	Execute func(ctx context.Context) (Status, string, map[string]any, error)
}

// CheckResult is the latest outcome of one check. Results are overwritten on
// each run; there is no per-check history.
type CheckResult struct {
	Name     string         `json:"name"`
	Category string         `json:"category,omitempty"`
	Status   Status         `json:"status"`
	Message  string         `json:"message"`
	LastRun  time.Time      `json:"last_run"`
	Duration time.Duration  `json:"duration"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Overview aggregates the current results into an overall status.
type Overview struct {
	Overall Status                 `json:"overall"`
	Checks  map[string]CheckResult `json:"checks"`
}

// Config holds engine settings.
type Config struct {
	// CheckInterval drives the runChecks+checkAlerts cycle. Zero disables it.
	CheckInterval time.Duration

	// DiagnosticsInterval drives the collectDiagnostics+checkAlerts cycle.
	// Zero disables it.
	DiagnosticsInterval time.Duration

	// MaxAlerts bounds the retained alert history. Defaults to 100.
	MaxAlerts int

	// MemoryWarnBytes/MemoryCritBytes are the built-in memory check
	// thresholds on heap in use. Defaults: 512 MiB / 1 GiB.
	MemoryWarnBytes uint64
	MemoryCritBytes uint64

	// LagWarn/LagCrit are the built-in scheduler lag check thresholds.
	// Defaults: 50ms / 200ms.
	LagWarn time.Duration
	LagCrit time.Duration
}

// Engine owns checks, diagnostics, and alert rules.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	bus    *eventbus.Bus
	clock  sched.Clock

	mu        sync.RWMutex
	checks    map[string]Check
	results   map[string]CheckResult
	snapshot  *Snapshot
	rules     map[string]*AlertRule
	alerts    []Alert
	diskProbe DiskProbe
	connProbe ConnProbe

	started   time.Time
	checkTask *sched.Task
	diagTask  *sched.Task
}

// New creates an engine with the built-in checks and alert rules registered.
func New(cfg Config, bus *eventbus.Bus, clock sched.Clock, logger *slog.Logger) *Engine {
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = 100
	}
	if cfg.MemoryWarnBytes == 0 {
		cfg.MemoryWarnBytes = 512 << 20
	}
	if cfg.MemoryCritBytes == 0 {
		cfg.MemoryCritBytes = 1 << 30
	}
	if cfg.LagWarn == 0 {
		cfg.LagWarn = 50 * time.Millisecond
	}
	if cfg.LagCrit == 0 {
		cfg.LagCrit = 200 * time.Millisecond
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		clock:     clock,
		checks:    make(map[string]Check),
		results:   make(map[string]CheckResult),
		rules:     make(map[string]*AlertRule),
		diskProbe: unknownDiskProbe,
		connProbe: unknownConnProbe,
		started:   clock.Now(),
	}
	e.registerBuiltins()

	e.checkTask = sched.NewTask("health-checks", cfg.CheckInterval, clock, logger, func(ctx context.Context) {
		e.RunChecks(ctx)
		e.CheckAlerts()
	})
	e.diagTask = sched.NewTask("diagnostics", cfg.DiagnosticsInterval, clock, logger, func(ctx context.Context) {
		e.CollectDiagnostics(ctx)
		e.CheckAlerts()
	})
	return e
}

// Start launches the two periodic cycles.
func (e *Engine) Start(ctx context.Context) {
	e.checkTask.Start(ctx)
	e.diagTask.Start(ctx)
}

// Stop cancels both cycles. Idempotent.
func (e *Engine) Stop() {
	e.checkTask.Stop()
	e.diagTask.Stop()
}

// RegisterCheck adds or replaces a health check, keyed by name.
func (e *Engine) RegisterCheck(c Check) {
	e.mu.Lock()
	e.checks[c.Name] = c
	e.mu.Unlock()
}

// RunChecks executes all registered checks concurrently and returns the full
// result set. A check that returns an error or panics yields a critical
// result; the run itself never fails.
func (e *Engine) RunChecks(ctx context.Context) []CheckResult {
	e.mu.RLock()
	checks := make([]Check, 0, len(e.checks))
	for _, c := range e.checks {
		checks = append(checks, c)
	}
	e.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = e.runOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	e.mu.Lock()
	for _, res := range results {
		e.results[res.Name] = res
	}
	e.mu.Unlock()

	return results
}

func (e *Engine) runOne(ctx context.Context, c Check) (res CheckResult) {
	start := e.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			res = CheckResult{
				Name:     c.Name,
				Category: c.Category,
				Status:   StatusCritical,
				Message:  "check panicked",
				LastRun:  start,
				Duration: e.clock.Now().Sub(start),
				Metadata: map[string]any{"error": fmt.Sprint(r)},
			}
		}
	}()

	status, msg, meta, err := c.Execute(ctx)
	res = CheckResult{
		Name:     c.Name,
		Category: c.Category,
		Status:   status,
		Message:  msg,
		LastRun:  start,
		Duration: e.clock.Now().Sub(start),
		Metadata: meta,
	}
	if err != nil {
		res.Status = StatusCritical
		res.Message = "check failed"
		if res.Metadata == nil {
			res.Metadata = make(map[string]any)
		}
		res.Metadata["error"] = err.Error()
	}
	return res
}

// Results returns a copy of the latest result per check.
func (e *Engine) Results() map[string]CheckResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]CheckResult, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out
}

// HealthStatus aggregates current results: critical wins over warning, which
// wins over unknown; only an all-healthy set is healthy.
func (e *Engine) HealthStatus() Overview {
	results := e.Results()

	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusCritical:
			overall = StatusCritical
		case StatusWarning:
			if overall != StatusCritical {
				overall = StatusWarning
			}
		case StatusUnknown:
			if overall == StatusHealthy {
				overall = StatusUnknown
			}
		}
	}
	return Overview{Overall: overall, Checks: results}
}
