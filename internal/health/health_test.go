package health

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelight/edgelight/internal/eventbus"
	"github.com/edgelight/edgelight/internal/sched"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *sched.FakeClock, *eventbus.Bus) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	clock := sched.NewFakeClock(time.Unix(1_700_000_000, 0))
	bus := eventbus.New(logger)
	return New(cfg, bus, clock, logger), clock, bus
}

// stubBuiltins replaces the built-in system checks with healthy stubs so
// aggregation tests are not at the mercy of the CI host.
func stubBuiltins(e *Engine) {
	healthy := func(context.Context) (Status, string, map[string]any, error) {
		return StatusHealthy, "ok", nil, nil
	}
	e.RegisterCheck(Check{Name: CheckMemory, Category: "system", Execute: healthy})
	e.RegisterCheck(Check{Name: CheckSchedulerLag, Category: "system", Execute: healthy})
}

func staticCheck(name string, status Status) Check {
	return Check{
		Name: name,
		Execute: func(context.Context) (Status, string, map[string]any, error) {
			return status, string(status), nil, nil
		},
	}
}

func TestRunChecks_ErrorBecomesCriticalResult(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})
	stubBuiltins(e)
	e.RegisterCheck(Check{
		Name: "upstream",
		Execute: func(context.Context) (Status, string, map[string]any, error) {
			return StatusUnknown, "", nil, errors.New("connect refused")
		},
	})

	results := e.RunChecks(context.Background())

	byName := map[string]CheckResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	res := byName["upstream"]
	assert.Equal(t, StatusCritical, res.Status)
	assert.Equal(t, "connect refused", res.Metadata["error"])
}

func TestRunChecks_PanicBecomesCriticalResult(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})
	stubBuiltins(e)
	e.RegisterCheck(Check{
		Name: "flaky",
		Execute: func(context.Context) (Status, string, map[string]any, error) {
			panic("probe exploded")
		},
	})

	results := e.RunChecks(context.Background())

	var res CheckResult
	for _, r := range results {
		if r.Name == "flaky" {
			res = r
		}
	}
	assert.Equal(t, StatusCritical, res.Status)
	assert.Contains(t, res.Metadata["error"], "probe exploded")
}

func TestRunChecks_OverwritesPriorResult(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})
	stubBuiltins(e)

	e.RegisterCheck(staticCheck("disk", StatusWarning))
	e.RunChecks(context.Background())
	e.RegisterCheck(staticCheck("disk", StatusHealthy))
	e.RunChecks(context.Background())

	results := e.Results()
	assert.Equal(t, StatusHealthy, results["disk"].Status, "one result per check, overwritten each run")
}

func TestHealthStatus_DiskThresholds(t *testing.T) {
	diskCheck := func(usedPct float64) Check {
		return Check{
			Name: "disk",
			Execute: func(context.Context) (Status, string, map[string]any, error) {
				meta := map[string]any{"used_pct": usedPct}
				switch {
				case usedPct > 95:
					return StatusCritical, "disk almost full", meta, nil
				case usedPct > 85:
					return StatusWarning, "disk filling up", meta, nil
				default:
					return StatusHealthy, "disk ok", meta, nil
				}
			},
		}
	}

	tests := []struct {
		usedPct float64
		want    Status
	}{
		{usedPct: 90, want: StatusWarning},
		{usedPct: 97, want: StatusCritical},
		{usedPct: 50, want: StatusHealthy},
	}
	for _, tt := range tests {
		e, _, _ := newTestEngine(t, Config{})
		stubBuiltins(e)
		e.RegisterCheck(diskCheck(tt.usedPct))
		e.RunChecks(context.Background())

		assert.Equal(t, tt.want, e.HealthStatus().Overall, "used_pct=%v", tt.usedPct)
	}
}

func TestHealthStatus_Precedence(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})
	stubBuiltins(e)
	e.RegisterCheck(staticCheck("a", StatusWarning))
	e.RegisterCheck(staticCheck("b", StatusUnknown))
	e.RunChecks(context.Background())
	assert.Equal(t, StatusWarning, e.HealthStatus().Overall)

	e.RegisterCheck(staticCheck("c", StatusCritical))
	e.RunChecks(context.Background())
	assert.Equal(t, StatusCritical, e.HealthStatus().Overall, "critical dominates")
}

func TestHealthStatus_UnknownBeatsHealthy(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})
	stubBuiltins(e)
	e.RegisterCheck(staticCheck("x", StatusUnknown))
	e.RunChecks(context.Background())
	assert.Equal(t, StatusUnknown, e.HealthStatus().Overall)
}

func TestCollectDiagnostics_Snapshot(t *testing.T) {
	e, clock, _ := newTestEngine(t, Config{})

	clock.Advance(time.Minute)
	snap := e.CollectDiagnostics(context.Background())

	require.NotNil(t, snap)
	assert.Equal(t, time.Minute, snap.Uptime)
	assert.Positive(t, snap.HeapAllocBytes)
	assert.Positive(t, snap.Goroutines)
	assert.False(t, snap.Disk.Supported, "disk probe defaults to unsupported")
	assert.False(t, snap.Connections.Supported)
	assert.Same(t, snap, e.LatestSnapshot())
}

func TestCollectDiagnostics_PanickingProbeIsContained(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})
	e.SetDiskProbe(func(context.Context) DiskUsage { panic("statfs failed") })

	snap := e.CollectDiagnostics(context.Background())
	assert.False(t, snap.Disk.Supported, "panicking probe degrades to unknown")
}
