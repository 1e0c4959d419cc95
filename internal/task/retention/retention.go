// Package retention prunes old relay history on a cron schedule.
package retention

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"voxrelay/pkg/logx"
)

// DefaultSchedule runs the prune once a day at midnight.
const DefaultSchedule = "@daily"

// Pruner is the storage side of the job.
type Pruner interface {
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}

type Config struct {
	// MaxAge drops records older than now-MaxAge. 0 disables the job.
	MaxAge time.Duration
	// Schedule is a cron spec; empty means DefaultSchedule. Seconds are
	// optional.
	Schedule string
	// Timeout bounds one prune run (default 30s).
	Timeout time.Duration
}

// Result describes the last run.
type Result struct {
	At      time.Time
	Cutoff  time.Time
	Removed int64
	Err     error
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec parses. Empty is valid.
func ValidateSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	_, err := parser.Parse(spec)
	return err
}

type Service struct {
	store Pruner
	log   logx.Logger
	clock clockwork.Clock

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	baseCtx context.Context
	started bool
	last    Result
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func New(cfg Config, store Pruner, log logx.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		log:     log.With(logx.Component("retention")),
		clock:   clockwork.NewRealClock(),
		cfg:     cfg,
		baseCtx: context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enabled reports whether the current config schedules any work.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store != nil && s.cfg.MaxAge > 0
}

// Start registers the prune job. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.baseCtx = ctx
	s.started = true
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.store == nil || s.cfg.MaxAge <= 0 {
		s.log.Debug("retention disabled")
		return nil
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, func() { s.RunOnce(s.runContext()) }); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("retention scheduled",
		logx.String("schedule", spec), logx.Duration("max_age", s.cfg.MaxAge))
	return nil
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// Apply swaps the config. After Start, the job is rescheduled when the
// schedule or the enabled state changed.
func (s *Service) Apply(cfg Config) error {
	if err := ValidateSchedule(cfg.Schedule); err != nil {
		return err
	}
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	c := s.c
	same := strings.TrimSpace(prev.Schedule) == strings.TrimSpace(cfg.Schedule) &&
		(prev.MaxAge > 0) == (cfg.MaxAge > 0)
	if !s.started || (c != nil && same) || (c == nil && cfg.MaxAge <= 0) {
		s.mu.Unlock()
		return nil
	}
	s.c = nil
	s.mu.Unlock()

	// A running prune needs s.mu, so wait for it unlocked.
	if c != nil {
		<-c.Stop().Done()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || s.baseCtx.Err() != nil {
		return nil
	}
	return s.startLocked()
}

// RunOnce prunes now. It is what the cron job calls.
func (s *Service) RunOnce(ctx context.Context) Result {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	now := s.clock.Now()
	res := Result{At: now}
	if s.store == nil || cfg.MaxAge <= 0 {
		res.Err = errors.New("retention disabled")
		return res
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	res.Cutoff = now.Add(-cfg.MaxAge)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res.Removed, res.Err = s.store.PruneBefore(runCtx, res.Cutoff)
	if res.Err != nil {
		s.log.Warn("history prune failed", logx.Err(res.Err))
	} else {
		s.log.Info("history pruned",
			logx.Int64("removed", res.Removed), logx.Time("cutoff", res.Cutoff))
	}

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	return res
}

// Last returns the most recent run result.
func (s *Service) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Stop unregisters the job and waits for a running prune until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Debug("retention stopped")
}
