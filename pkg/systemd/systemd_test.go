package systemd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"

	"voxrelay/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func useRecorder(t *testing.T) *recorder {
	t.Helper()
	r := &recorder{}
	prev := notify
	notify = r.notify
	t.Cleanup(func() { notify = prev })
	return r
}

func TestStateNotifications(t *testing.T) {
	r := useRecorder(t)
	_, _ = Ready()
	_, _ = Reloading()
	_, _ = Status("relaying")
	_, _ = Stopping()
	assert.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyReloading, "STATUS=relaying", daemon.SdNotifyStopping}, r.states)
}

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	sent, err := Ready()
	assert.NoError(t, err)
	assert.False(t, sent)
}

func TestWatchdogInterval(t *testing.T) {
	t.Setenv("WATCHDOG_PID", "")
	t.Setenv("WATCHDOG_USEC", "")
	assert.Zero(t, WatchdogInterval())

	t.Setenv("WATCHDOG_USEC", "4000000")
	assert.Equal(t, 2*time.Second, WatchdogInterval())
}

func TestRunWatchdogPingsWhileHealthy(t *testing.T) {
	r := useRecorder(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunWatchdog(ctx, 10*time.Millisecond, func() bool { return true }, logx.Nop())
	}()
	assert.Eventually(t, func() bool { return r.count(daemon.SdNotifyWatchdog) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRunWatchdogSkipsWhenUnhealthy(t *testing.T) {
	r := useRecorder(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	RunWatchdog(ctx, 10*time.Millisecond, func() bool { return false }, logx.Nop())
	assert.Zero(t, r.count(daemon.SdNotifyWatchdog))
}

func TestRunWatchdogDisabledWaitsForContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	RunWatchdog(ctx, 0, nil, logx.Nop())
}
