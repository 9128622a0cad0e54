package controlloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsintel/opsiq/pkg/config"
	"github.com/opsintel/opsiq/pkg/models"
)

func testPolicy() config.ReplanSettings {
	return config.ReplanSettings{
		Enabled:         true,
		MaxReplans:      2,
		MinInterval:     2 * time.Second,
		CoolingPeriod:   10 * time.Second,
		AllowedTriggers: []string{"error", "timeout", "policy_violation"},
	}
}

// withClock installs a controllable clock starting at a fixed instant.
func withClock(l *Loop) func(d time.Duration) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func errorTrigger() models.ReplanTrigger {
	return models.ReplanTrigger{
		Type:     models.ReplanTriggerError,
		Severity: models.ReplanSeverityNormal,
		Reason:   "backend unavailable",
	}
}

func TestFirstTriggerAccepted(t *testing.T) {
	loop := New(testPolicy())
	withClock(loop)

	decision := loop.ShouldReplan(errorTrigger())
	assert.True(t, decision.Accepted)
	assert.Equal(t, 1, loop.ReplanCount())
}

func TestDisabledPolicyRejects(t *testing.T) {
	policy := testPolicy()
	policy.Enabled = false
	loop := New(policy)

	decision := loop.ShouldReplan(errorTrigger())
	assert.False(t, decision.Accepted)
	assert.Contains(t, decision.Reason, "disabled")
}

func TestDisallowedTriggerTypeRejects(t *testing.T) {
	policy := testPolicy()
	policy.AllowedTriggers = []string{"timeout"}
	loop := New(policy)

	decision := loop.ShouldReplan(errorTrigger())
	assert.False(t, decision.Accepted)
}

func TestReplanBudgetExhausted(t *testing.T) {
	loop := New(testPolicy())
	advance := withClock(loop)

	// Two replans spaced past the cooling period are accepted.
	require.True(t, loop.ShouldReplan(errorTrigger()).Accepted)
	advance(11 * time.Second)
	require.True(t, loop.ShouldReplan(errorTrigger()).Accepted)
	advance(11 * time.Second)

	decision := loop.ShouldReplan(errorTrigger())
	assert.False(t, decision.Accepted)
	assert.Contains(t, decision.Reason, "budget")
}

func TestMinIntervalRejects(t *testing.T) {
	loop := New(testPolicy())
	advance := withClock(loop)

	require.True(t, loop.ShouldReplan(errorTrigger()).Accepted)
	advance(time.Second)

	decision := loop.ShouldReplan(errorTrigger())
	assert.False(t, decision.Accepted)
	assert.Contains(t, decision.Reason, "too fast")
}

func TestCoolingPeriodBlocksNormalSeverity(t *testing.T) {
	loop := New(testPolicy())
	advance := withClock(loop)

	require.True(t, loop.ShouldReplan(errorTrigger()).Accepted)
	advance(5 * time.Second)

	decision := loop.ShouldReplan(errorTrigger())
	assert.False(t, decision.Accepted)
	assert.Contains(t, decision.Reason, "cooling")
}

func TestCriticalSeverityOverridesCoolingPeriod(t *testing.T) {
	loop := New(testPolicy())
	advance := withClock(loop)

	require.True(t, loop.ShouldReplan(errorTrigger()).Accepted)
	advance(5 * time.Second)

	trigger := errorTrigger()
	trigger.Severity = models.ReplanSeverityCritical
	decision := loop.ShouldReplan(trigger)
	assert.True(t, decision.Accepted, "critical triggers bypass the cooling period")
}

func TestHistoryRecordsEveryDecision(t *testing.T) {
	loop := New(testPolicy())
	advance := withClock(loop)

	loop.ShouldReplan(errorTrigger())
	advance(time.Second)
	loop.ShouldReplan(errorTrigger())

	history := loop.History()
	require.Len(t, history, 2)
	assert.True(t, history[0].Accepted)
	assert.False(t, history[1].Accepted)
}
