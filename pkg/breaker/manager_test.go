package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(testConfig())
	boom := errors.New("backend down")

	for i := 0; i < 3; i++ {
		assert.True(t, m.Allow("pg"), "breaker must stay closed before the threshold")
		_, err := m.Execute("pg", func() (any, error) { return nil, boom })
		require.Error(t, err)
	}

	assert.False(t, m.Allow("pg"), "breaker must open at the threshold")

	stats, ok := m.Stats("pg")
	require.True(t, ok)
	assert.Equal(t, StateOpen, stats.State)
	assert.Equal(t, uint32(3), stats.TotalFailures)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	m := NewManager(testConfig())

	for i := 0; i < 3; i++ {
		_, _ = m.Execute("pg", func() (any, error) { return nil, errors.New("down") })
	}
	require.False(t, m.Allow("pg"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, m.Allow("pg"), "recovery timeout must allow a probe")

	_, err := m.Execute("pg", func() (any, error) { return "ok", nil })
	require.NoError(t, err)

	stats, _ := m.Stats("pg")
	assert.Equal(t, StateClosed, stats.State)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	m := NewManager(testConfig())

	_, _ = m.Execute("pg", func() (any, error) { return nil, errors.New("down") })
	_, _ = m.Execute("pg", func() (any, error) { return nil, errors.New("down") })
	_, err := m.Execute("pg", func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	_, _ = m.Execute("pg", func() (any, error) { return nil, errors.New("down") })

	assert.True(t, m.Allow("pg"), "one failure after a success must not trip")
}

func TestBreakersAreIndependent(t *testing.T) {
	m := NewManager(testConfig())

	for i := 0; i < 3; i++ {
		_, _ = m.Execute("pg", func() (any, error) { return nil, errors.New("down") })
	}

	assert.False(t, m.Allow("pg"))
	assert.True(t, m.Allow("neo4j"))
}

func TestReset(t *testing.T) {
	m := NewManager(testConfig())
	for i := 0; i < 3; i++ {
		_, _ = m.Execute("pg", func() (any, error) { return nil, errors.New("down") })
	}
	require.False(t, m.Allow("pg"))

	m.Reset("pg")
	assert.True(t, m.Allow("pg"))

	_, ok := m.Stats("pg")
	assert.False(t, ok, "reset discards the breaker entirely")
}
