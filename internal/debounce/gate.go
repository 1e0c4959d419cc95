package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is the gate's coarse state.
type State int

const (
	// StateIdle means no cooldown window is recorded.
	StateIdle State = iota
	// StateArmed means an expiry is recorded. It may already be in the past.
	StateArmed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	default:
		return "unknown"
	}
}

// Gate permits a notification at most once per TTL window.
//
// It is safe for concurrent use. The zero value is not usable; use New.
type Gate struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu        sync.Mutex
	expiresAt time.Time
	armed     bool
}

// New returns an idle gate. Negative ttl is treated as zero. A nil clock
// defaults to the real clock.
//
// With a zero ttl every call at a strictly later instant fires, but a second
// call at the same instant as the last firing is suppressed, since the window
// [now, now] has not yet expired.
func New(ttl time.Duration, clock clockwork.Clock) *Gate {
	if ttl < 0 {
		ttl = 0
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gate{ttl: ttl, clock: clock}
}

// TTL returns the immutable window length.
func (g *Gate) TTL() time.Duration { return g.ttl }

// Clock returns the clock used by Allow.
func (g *Gate) Clock() clockwork.Clock { return g.clock }

// Active reports whether an expiry is recorded.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// Expired reports whether an expiry is recorded and now is strictly after it.
// An idle gate is not expired.
func (g *Gate) Expired(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expiredLocked(now)
}

func (g *Gate) expiredLocked(now time.Time) bool {
	return g.armed && now.After(g.expiresAt)
}

// TryFire permits the trigger when the gate is idle or its window has
// expired, and in that case re-arms the window to now+TTL. Otherwise the
// state is left untouched and false is returned.
func (g *Gate) TryFire(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.armed && !g.expiredLocked(now) {
		return false
	}
	g.expiresAt = now.Add(g.ttl)
	g.armed = true
	return true
}

// Allow is TryFire at the gate clock's current time.
func (g *Gate) Allow() bool {
	return g.TryFire(g.clock.Now())
}

// Reset clears any recorded expiry.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.expiresAt = time.Time{}
	g.armed = false
	g.mu.Unlock()
}

// ExpiresAt returns the recorded expiry, if any.
func (g *Gate) ExpiresAt() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expiresAt, g.armed
}

// State returns StateArmed when an expiry is recorded.
func (g *Gate) State() State {
	if g.Active() {
		return StateArmed
	}
	return StateIdle
}

// Remaining returns how long TryFire(now) would keep returning false.
// It is zero for an idle or expired gate.
func (g *Gate) Remaining(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed || g.expiredLocked(now) {
		return 0
	}
	// now == expiresAt still suppresses, so report at least 1ns.
	if d := g.expiresAt.Sub(now); d > 0 {
		return d
	}
	return time.Nanosecond
}
