package health

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Built-in check and rule names.
const (
	CheckMemory       = "memory"
	CheckSchedulerLag = "scheduler_lag"

	RuleMemoryPressure = "memory_pressure"
	RuleSchedulerLag   = "scheduler_lag_high"
)

// lagProbeSleep is the nominal timer duration the scheduler-lag probe
// measures overshoot against.
const lagProbeSleep = 10 * time.Millisecond

// registerBuiltins installs the memory and scheduler-lag checks, plus the
// matching alert rules with independent cooldowns.
func (e *Engine) registerBuiltins() {
	e.checks[CheckMemory] = Check{
		Name:     CheckMemory,
		Category: "system",
		Execute:  e.memoryCheck,
	}
	e.checks[CheckSchedulerLag] = Check{
		Name:     CheckSchedulerLag,
		Category: "system",
		Execute:  e.schedulerLagCheck,
	}

	e.rules[RuleMemoryPressure] = &AlertRule{
		Name:     RuleMemoryPressure,
		Severity: SeverityWarning,
		Message:  "process memory usage above warning threshold",
		Cooldown: 5 * time.Minute,
		Predicate: func(snap *Snapshot, results map[string]CheckResult) bool {
			if r, ok := results[CheckMemory]; ok {
				return r.Status == StatusWarning || r.Status == StatusCritical
			}
			return false
		},
	}
	e.rules[RuleSchedulerLag] = &AlertRule{
		Name:     RuleSchedulerLag,
		Severity: SeverityCritical,
		Message:  "scheduler latency above critical threshold",
		Cooldown: 2 * time.Minute,
		Predicate: func(snap *Snapshot, results map[string]CheckResult) bool {
			if r, ok := results[CheckSchedulerLag]; ok {
				return r.Status == StatusCritical
			}
			return false
		},
	}
}

// memoryCheck grades heap in use against the two-tier thresholds.
func (e *Engine) memoryCheck(context.Context) (Status, string, map[string]any, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	meta := map[string]any{
		"heap_inuse_bytes": ms.HeapInuse,
		"sys_bytes":        ms.Sys,
		"warn_bytes":       e.cfg.MemoryWarnBytes,
		"crit_bytes":       e.cfg.MemoryCritBytes,
	}
	switch {
	case ms.HeapInuse >= e.cfg.MemoryCritBytes:
		return StatusCritical, fmt.Sprintf("heap in use %d MiB exceeds critical threshold", ms.HeapInuse>>20), meta, nil
	case ms.HeapInuse >= e.cfg.MemoryWarnBytes:
		return StatusWarning, fmt.Sprintf("heap in use %d MiB exceeds warning threshold", ms.HeapInuse>>20), meta, nil
	default:
		return StatusHealthy, "memory usage nominal", meta, nil
	}
}

// schedulerLagCheck measures how far a short timer overshoots its nominal
// duration, the Go analog of event-loop lag. It deliberately uses wall-clock
// sleeps rather than the injected clock: the probe measures the runtime.
func (e *Engine) schedulerLagCheck(ctx context.Context) (Status, string, map[string]any, error) {
	start := time.Now()
	timer := time.NewTimer(lagProbeSleep)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return StatusUnknown, "probe cancelled", nil, nil
	}
	lag := time.Since(start) - lagProbeSleep
	if lag < 0 {
		lag = 0
	}

	meta := map[string]any{
		"lag_ms":  lag.Milliseconds(),
		"warn_ms": e.cfg.LagWarn.Milliseconds(),
		"crit_ms": e.cfg.LagCrit.Milliseconds(),
	}
	switch {
	case lag >= e.cfg.LagCrit:
		return StatusCritical, fmt.Sprintf("scheduler lag %v exceeds critical threshold", lag), meta, nil
	case lag >= e.cfg.LagWarn:
		return StatusWarning, fmt.Sprintf("scheduler lag %v exceeds warning threshold", lag), meta, nil
	default:
		return StatusHealthy, "scheduler responsive", meta, nil
	}
}
