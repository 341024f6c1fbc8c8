package health

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/edgelight/edgelight/internal/eventbus"
)

// Severity of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRule is a predicate over the latest diagnostics snapshot and health
// results, with a cooldown that deduplicates successive triggers.
type AlertRule struct {
	Name     string
	Severity Severity
	Message  string
	Cooldown time.Duration

	// Predicate decides whether the rule fires. A nil snapshot is passed
	// when diagnostics have not run yet. A panicking predicate is treated
	// as "did not trigger".
	Predicate func(snap *Snapshot, results map[string]CheckResult) bool

	lastTriggered time.Time
}

// Alert is one triggered rule instance, retained in bounded history.
type Alert struct {
	ID           string         `json:"id"`
	Rule         string         `json:"rule"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	AckBy        string         `json:"ack_by,omitempty"`
	AckAt        *time.Time     `json:"ack_at,omitempty"`
}

// AlertFilter selects alerts in GetAlerts. Nil fields match everything.
type AlertFilter struct {
	Severity     *Severity
	Acknowledged *bool
	Since        time.Time
}

// RegisterAlertRule adds or replaces a rule, keyed by name.
func (e *Engine) RegisterAlertRule(rule AlertRule) {
	e.mu.Lock()
	e.rules[rule.Name] = &rule
	e.mu.Unlock()
}

// CheckAlerts evaluates every rule against the latest snapshot and health
// results. A rule inside its cooldown window is skipped; a firing rule
// produces one Alert, published on the bus and appended to bounded history.
func (e *Engine) CheckAlerts() []Alert {
	now := e.clock.Now()

	e.mu.Lock()
	snap := e.snapshot
	results := make(map[string]CheckResult, len(e.results))
	maps.Copy(results, e.results)

	// Claim the trigger before evaluating, so a concurrent run inside the
	// cooldown window skips the rule instead of firing it a second time.
	// The claim is rolled back when the predicate does not fire.
	names := slices.Sorted(maps.Keys(e.rules))
	type claim struct {
		rule *AlertRule
		prev time.Time
	}
	var due []claim
	for _, name := range names {
		rule := e.rules[name]
		if !rule.lastTriggered.IsZero() && now.Sub(rule.lastTriggered) < rule.Cooldown {
			continue
		}
		due = append(due, claim{rule: rule, prev: rule.lastTriggered})
		rule.lastTriggered = now
	}
	e.mu.Unlock()

	var fired []Alert
	for _, c := range due {
		rule := c.rule
		if !e.evaluate(rule, snap, results) {
			e.mu.Lock()
			if rule.lastTriggered.Equal(now) {
				rule.lastTriggered = c.prev
			}
			e.mu.Unlock()
			continue
		}
		alert := Alert{
			ID:        uuid.New().String(),
			Rule:      rule.Name,
			Severity:  rule.Severity,
			Message:   rule.Message,
			Timestamp: now,
			Data:      alertData(snap, results),
		}
		fired = append(fired, alert)

		e.mu.Lock()
		e.alerts = append(e.alerts, alert)
		if len(e.alerts) > e.cfg.MaxAlerts {
			e.alerts = e.alerts[len(e.alerts)-e.cfg.MaxAlerts:]
		}
		e.mu.Unlock()

		e.logger.Warn("health: alert triggered", "rule", rule.Name, "severity", rule.Severity)
		e.bus.Publish(eventbus.TopicAlertTriggered, alert)
	}
	return fired
}

// evaluate runs the predicate, treating a panic as "did not trigger".
func (e *Engine) evaluate(rule *AlertRule, snap *Snapshot, results map[string]CheckResult) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("health: alert predicate panicked", "rule", rule.Name, "panic", r)
			fired = false
		}
	}()
	return rule.Predicate(snap, results)
}

// alertData captures a compact snapshot of the inputs the rule saw.
func alertData(snap *Snapshot, results map[string]CheckResult) map[string]any {
	data := make(map[string]any, 2)
	if snap != nil {
		data["heap_inuse_bytes"] = snap.HeapInuseBytes
		data["goroutines"] = snap.Goroutines
	}
	statuses := make(map[string]Status, len(results))
	for name, r := range results {
		statuses[name] = r.Status
	}
	data["check_statuses"] = statuses
	return data
}

// AcknowledgeAlert marks the alert acknowledged by who. Returns false if no
// alert with the id exists.
func (e *Engine) AcknowledgeAlert(id, who string) bool {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.alerts {
		if e.alerts[i].ID == id {
			e.alerts[i].Acknowledged = true
			e.alerts[i].AckBy = who
			e.alerts[i].AckAt = &now
			return true
		}
	}
	return false
}

// GetAlerts returns retained alerts matching the filter, most recent first.
func (e *Engine) GetAlerts(filter AlertFilter) []Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Alert, 0, len(e.alerts))
	for i := len(e.alerts) - 1; i >= 0; i-- {
		a := e.alerts[i]
		if filter.Severity != nil && a.Severity != *filter.Severity {
			continue
		}
		if filter.Acknowledged != nil && a.Acknowledged != *filter.Acknowledged {
			continue
		}
		if !filter.Since.IsZero() && a.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, a)
	}
	return out
}
