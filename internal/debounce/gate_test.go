package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return epoch.Add(time.Duration(sec) * time.Second) }

func TestNewGateIsIdle(t *testing.T) {
	for _, ttl := range []time.Duration{0, time.Second, 10 * time.Minute} {
		g := New(ttl, clockwork.NewFakeClockAt(epoch))
		assert.False(t, g.Active(), "ttl=%s", ttl)
		assert.Equal(t, StateIdle, g.State())
		assert.False(t, g.Expired(epoch))
		_, ok := g.ExpiresAt()
		assert.False(t, ok)
	}
}

func TestNegativeTTLClampsToZero(t *testing.T) {
	g := New(-time.Second, nil)
	assert.Equal(t, time.Duration(0), g.TTL())
	assert.NotNil(t, g.Clock())
}

func TestTryFireOnIdleArms(t *testing.T) {
	g := New(30*time.Second, nil)

	require.True(t, g.TryFire(at(5)))
	assert.True(t, g.Active())
	assert.Equal(t, StateArmed, g.State())

	exp, ok := g.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, at(35), exp)
}

func TestTryFireWithinWindowIsSuppressed(t *testing.T) {
	g := New(30*time.Second, nil)
	require.True(t, g.TryFire(at(0)))

	for _, sec := range []int{1, 15, 29, 30} {
		assert.False(t, g.TryFire(at(sec)), "t=%d", sec)
		exp, _ := g.ExpiresAt()
		assert.Equal(t, at(30), exp, "expiry must not move at t=%d", sec)
	}
}

func TestTryFireAfterWindowRearms(t *testing.T) {
	g := New(30*time.Second, nil)
	require.True(t, g.TryFire(at(0)))

	assert.True(t, g.Expired(at(31)))
	require.True(t, g.TryFire(at(31)))

	exp, _ := g.ExpiresAt()
	assert.Equal(t, at(61), exp)
	assert.False(t, g.Expired(at(61)))
}

func TestZeroTTLFiresAtEveryLaterInstant(t *testing.T) {
	g := New(0, nil)
	now := at(10)
	require.True(t, g.TryFire(now))
	// now == expiry is not "after", so an identical timestamp is suppressed.
	assert.False(t, g.TryFire(now))
	assert.True(t, g.TryFire(now.Add(time.Nanosecond)))
	assert.True(t, g.TryFire(now.Add(time.Second)))
}

func TestResetFromAnyState(t *testing.T) {
	g := New(time.Minute, nil)
	g.Reset()
	assert.False(t, g.Active())

	require.True(t, g.TryFire(at(0)))
	g.Reset()
	assert.False(t, g.Active())
	assert.Equal(t, StateIdle, g.State())

	// After reset the next trigger fires immediately.
	assert.True(t, g.TryFire(at(1)))
}

func TestRemaining(t *testing.T) {
	g := New(time.Minute, nil)
	assert.Equal(t, time.Duration(0), g.Remaining(at(0)))

	require.True(t, g.TryFire(at(0)))
	assert.Equal(t, 45*time.Second, g.Remaining(at(15)))
	assert.Equal(t, time.Nanosecond, g.Remaining(at(60)))
	assert.Equal(t, time.Duration(0), g.Remaining(at(61)))
}

func TestAllowUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	g := New(10*time.Second, clock)

	require.True(t, g.Allow())
	assert.False(t, g.Allow())

	clock.Advance(10 * time.Second)
	assert.False(t, g.Allow())

	clock.Advance(time.Millisecond)
	assert.True(t, g.Allow())
}

func TestClockRegressionKeepsSuppressing(t *testing.T) {
	g := New(10*time.Second, nil)
	require.True(t, g.TryFire(at(100)))
	assert.False(t, g.TryFire(at(50)))
	assert.False(t, g.Expired(at(50)))
}

func TestConcurrentTryFireGrantsOnePermit(t *testing.T) {
	const n = 64
	g := New(time.Minute, nil)
	now := at(0)

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make(chan bool, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- g.TryFire(now)
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	granted := 0
	for ok := range results {
		if ok {
			granted++
		}
	}
	assert.Equal(t, 1, granted)
}

func TestScenarioTenMinuteWindow(t *testing.T) {
	g := New(600*time.Second, nil)

	require.True(t, g.TryFire(at(0)))
	exp, _ := g.ExpiresAt()
	assert.Equal(t, at(600), exp)

	assert.False(t, g.TryFire(at(300)))

	require.True(t, g.TryFire(at(601)))
	exp, _ = g.ExpiresAt()
	assert.Equal(t, at(1201), exp)

	g.Reset()
	assert.False(t, g.Active())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "armed", StateArmed.String())
	assert.Equal(t, "unknown", State(7).String())
}
