// Package controlloop decides whether a failed stage may loop the pipeline
// back to planning. It bounds replans by count, rate, and trigger type so a
// flapping backend cannot spin the orchestrator.
package controlloop

import (
	"strconv"
	"sync"
	"time"

	"github.com/opsintel/opsiq/pkg/config"
	"github.com/opsintel/opsiq/pkg/metrics"
	"github.com/opsintel/opsiq/pkg/models"
)

// Decision is the outcome of one should-replan evaluation.
type Decision struct {
	Accepted bool
	Reason   string
}

// Loop holds the replan state for one question's execution. Not shared
// across traces.
type Loop struct {
	mu            sync.Mutex
	policy        config.ReplanSettings
	replanCount   int
	lastReplan    time.Time
	firstTrigger  time.Time
	triggerCounts map[models.ReplanTriggerType]int
	history       []models.ReplanEvent
	now           func() time.Time
}

// New creates a control loop with the given policy.
func New(policy config.ReplanSettings) *Loop {
	return &Loop{
		policy:        policy,
		triggerCounts: make(map[models.ReplanTriggerType]int),
		now:           time.Now,
	}
}

// ShouldReplan applies the policy to one trigger and records the decision.
func (l *Loop) ShouldReplan(trigger models.ReplanTrigger) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.triggerCounts[trigger.Type]++
	if l.firstTrigger.IsZero() {
		l.firstTrigger = now
	}

	decision := l.evaluate(trigger, now)
	l.history = append(l.history, models.ReplanEvent{
		Trigger:   trigger,
		Accepted:  decision.Accepted,
		Reason:    decision.Reason,
		Patch:     trigger.Patch,
		CreatedAt: now.UTC(),
	})
	if decision.Accepted {
		l.replanCount++
		l.lastReplan = now
	}
	metrics.ReplansTotal.WithLabelValues(
		string(trigger.Type), strconv.FormatBool(decision.Accepted)).Inc()
	return decision
}

func (l *Loop) evaluate(trigger models.ReplanTrigger, now time.Time) Decision {
	if !l.policy.Enabled {
		return Decision{Reason: "automatic replanning is disabled"}
	}
	if !l.allowedTrigger(trigger.Type) {
		return Decision{Reason: "trigger type " + string(trigger.Type) + " is not allowed"}
	}
	if l.replanCount >= l.policy.MaxReplans {
		return Decision{Reason: "replan budget exhausted"}
	}
	if !l.lastReplan.IsZero() && now.Sub(l.lastReplan) < l.policy.MinInterval {
		return Decision{Reason: "replanning too fast"}
	}
	if !l.lastReplan.IsZero() && now.Sub(l.lastReplan) < l.policy.CoolingPeriod &&
		trigger.Severity != models.ReplanSeverityCritical {
		return Decision{Reason: "cooling period active; trigger is not critical"}
	}
	return Decision{Accepted: true, Reason: "accepted"}
}

func (l *Loop) allowedTrigger(t models.ReplanTriggerType) bool {
	for _, allowed := range l.policy.AllowedTriggers {
		if allowed == string(t) {
			return true
		}
	}
	return false
}

// ReplanCount returns how many replans were accepted so far.
func (l *Loop) ReplanCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.replanCount
}

// History returns every recorded decision.
func (l *Loop) History() []models.ReplanEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ReplanEvent, len(l.history))
	copy(out, l.history)
	return out
}
