package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"voxrelay/internal/eventbus"
	"voxrelay/internal/metrics"
	rtsup "voxrelay/internal/runtime/supervisor"
	"voxrelay/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry + circuit breaker.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	sender  Sender
	bus     eventbus.Bus
	metrics *metrics.Metrics
	clock   clockwork.Clock

	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Notification
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	lmu  sync.Mutex
	last *Delivery
}

type Option func(*Service)

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func New(cfg Config, sender Sender, log logx.Logger, opts ...Option) *Service {
	s := &Service{
		sender: sender,
		log:    log.With(logx.Component("notifier")),
		clock:  clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps tuning at runtime. Worker and queue sizes take effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	if s.breaker == nil || cfg.BreakerFailures != s.cfg.BreakerFailures || cfg.BreakerTimeout != s.cfg.BreakerTimeout {
		s.breaker = s.newBreaker(cfg)
	}
	s.cfg = cfg
	// Burst equals the per-second rate so short spikes don't block.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) newBreaker(cfg Config) *gobreaker.CircuitBreaker {
	threshold := uint32(cfg.BreakerFailures)
	log := s.log
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				logx.String("circuit", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
}

// BreakerState reports the circuit breaker state ("closed", "open", "half-open").
func (s *Service) BreakerState() string {
	s.mu.Lock()
	cb := s.breaker
	s.mu.Unlock()
	return cb.State().String()
}

// Supervisor returns the notifier's internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the workers. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Delivery is best-effort; a broken worker must not stop the bot.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := range workers {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping || c.Err() != nil {
				return nil
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("queue", cap(q)))
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close so workers drain and exit.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
		s.log.Info("notifier stopped")
	case <-ctx.Done():
		sup.Cancel()
		s.log.Warn("notifier stop timed out; pending notifications abandoned")
	}
}

// Notify enqueues n without blocking.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- n:
		s.metrics.Notification(metrics.StatusQueued)
		s.publish(eventbus.TypeNotifierQueued, n, nil)
		return nil
	default:
		s.metrics.Notification(metrics.StatusDropped)
		s.publish(eventbus.TypeNotifierDropped, n, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) publish(typ string, n Notification, err error) {
	if s.bus == nil {
		return
	}
	now := s.clock.Now()
	ev := NotificationEvent{ChatID: n.ChatID, Trigger: n.Trigger, AnimationURL: n.AnimationURL, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// LastDelivery returns the outcome of the most recently finished
// notification. ok is false until one finishes.
func (s *Service) LastDelivery() (d Delivery, ok bool) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.last == nil {
		return Delivery{}, false
	}
	return *s.last, true
}

func (s *Service) setLast(d Delivery) {
	s.lmu.Lock()
	s.last = &d
	s.lmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, n)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, n Notification) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	cb := s.breaker
	s.mu.Unlock()

	if s.sender == nil {
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		start := s.clock.Now()
		_, err := cb.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
			defer cancel()
			return nil, s.deliver(callCtx, n)
		})
		s.metrics.ObserveSend(s.clock.Since(start).Seconds())
		if err == nil {
			s.metrics.Notification(metrics.StatusSent)
			s.setLast(Delivery{At: s.clock.Now(), Trigger: n.Trigger, Attempts: attempt})
			s.publish(eventbus.TypeNotifierSent, n, nil)
			s.log.Debug("notification sent", logx.String("trigger", n.Trigger), logx.Int("attempt", attempt))
			return
		}
		lastErr = err
		s.log.Debug("notification send failed",
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt >= maxAttempts {
			break
		}
		select {
		case <-s.clock.After(retryDelay(cfg, attempt)):
			continue
		case <-ctx.Done():
			lastErr = ctx.Err()
		}
		break
	}

	s.metrics.Notification(metrics.StatusFailed)
	s.setLast(Delivery{At: s.clock.Now(), Trigger: n.Trigger, Attempts: attempts, Err: lastErr.Error()})
	s.publish(eventbus.TypeNotifierFailed, n, lastErr)
	s.log.Warn("notification failed", logx.String("trigger", n.Trigger), logx.Int("attempts", attempts), logx.Err(lastErr))
}

func (s *Service) deliver(ctx context.Context, n Notification) error {
	if n.AnimationURL == "" {
		return s.sender.SendText(ctx, n.ChatID, n.Caption)
	}
	return s.sender.SendAnimation(ctx, n.ChatID, n.AnimationURL, n.Caption)
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1) capped at
// RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
