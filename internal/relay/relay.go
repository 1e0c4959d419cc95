// Package relay turns Discord triggers into Telegram notifications.
//
// Every trigger passes one shared debounce gate: the first trigger after the
// cooldown window is relayed, the rest are suppressed until it expires.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"voxrelay/internal/debounce"
	"voxrelay/internal/eventbus"
	"voxrelay/internal/message"
	"voxrelay/internal/metrics"
	"voxrelay/internal/notifier"
	"voxrelay/internal/storage"
	"voxrelay/pkg/logx"
)

// Outcome is the decision taken for one trigger.
type Outcome string

const (
	// OutcomeSent means the notification was queued for Telegram.
	OutcomeSent Outcome = "sent"
	// OutcomeSuppressed means the cooldown window was active.
	OutcomeSuppressed Outcome = "suppressed"
	// Discarded voice events never reach the gate.
	OutcomeDiscardedMoved    Outcome = "discarded_moved"
	OutcomeDiscardedOccupied Outcome = "discarded_occupied"
	OutcomeDiscardedBot      Outcome = "discarded_bot"
	// OutcomeRejected is a /notify with an invalid animation index.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed means the gate fired but the notification could not be
	// queued. The window stays armed.
	OutcomeFailed Outcome = "failed"
)

// Trigger names, used in events, metrics and history.
const (
	TriggerVoiceJoin = "voice_join"
	TriggerCommand   = "command"
)

// VoiceJoin describes one voice state change.
type VoiceJoin struct {
	UserID string
	User   string
	// HadPrevious is true when the user already had a voice state (moved
	// between channels, muted, deafened, ...).
	HadPrevious bool
	ChannelID   string
	Channel     string
	Guild       string
	// Members is the channel population after the join, joiner included.
	Members int
	Bot     bool
}

// NotifyRequest is a /notify invocation.
type NotifyRequest struct {
	// Index selects an animation; nil picks one at random.
	Index *int
	// Message replaces the default caption when set.
	Message string
	User    string
	Channel string
	Guild   string
}

// Enqueuer accepts notifications for delivery.
type Enqueuer interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Animations picks animation URLs.
type Animations interface {
	Random() string
	At(i int) (string, error)
}

// HistoryWriter records relay decisions.
type HistoryWriter interface {
	AppendRelay(ctx context.Context, r storage.Record) error
}

// Config is the hot-reloadable part of the relay.
type Config struct {
	// ChatID is the Telegram chat notifications go to.
	ChatID int64
	// MaxVoiceMembers is the largest channel population that still relays.
	// 0 disables the check.
	MaxVoiceMembers int
	// GateCommands makes /notify consult the cooldown window.
	GateCommands bool
	// IgnoreBots discards voice joins by bot accounts.
	IgnoreBots bool
}

// OutcomeEvent is published on the bus for every decision.
type OutcomeEvent struct {
	Trigger string  `json:"trigger"`
	Outcome Outcome `json:"outcome"`
	User    string  `json:"user,omitempty"`
	Channel string  `json:"channel,omitempty"`
	Guild   string  `json:"guild,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// CooldownStatus is a point-in-time view of the gate.
type CooldownStatus struct {
	State     debounce.State
	TTL       time.Duration
	ExpiresAt time.Time
	Remaining time.Duration
}

// Relay decides whether a trigger becomes a Telegram notification. It is
// safe for concurrent use.
type Relay struct {
	gate  *debounce.Gate
	anims Animations
	out   Enqueuer
	log   logx.Logger

	history HistoryWriter
	bus     eventbus.Bus
	metrics *metrics.Metrics
	clock   clockwork.Clock

	mu  sync.RWMutex
	cfg Config
}

// Option configures optional collaborators of a Relay.
type Option func(*Relay)

// WithHistory records every decision in h.
func WithHistory(h HistoryWriter) Option { return func(r *Relay) { r.history = h } }

// WithBus publishes an OutcomeEvent per decision.
func WithBus(bus eventbus.Bus) Option { return func(r *Relay) { r.bus = bus } }

// WithMetrics counts gate decisions and outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Relay) { r.metrics = m } }

// WithClock overrides the clock used for gate decisions. Defaults to the
// gate's clock.
func WithClock(c clockwork.Clock) Option { return func(r *Relay) { r.clock = c } }

// New returns a relay that passes every trigger through gate and enqueues
// permitted notifications on out.
func New(cfg Config, gate *debounce.Gate, anims Animations, out Enqueuer, log logx.Logger, opts ...Option) *Relay {
	r := &Relay{
		gate:  gate,
		anims: anims,
		out:   out,
		log:   log.With(logx.Component("relay")),
		cfg:   cfg,
		clock: gate.Clock(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Apply swaps the runtime settings. The gate TTL is not part of Config and
// never changes.
func (r *Relay) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Relay) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// HandleVoiceJoin relays a join into an empty voice channel.
func (r *Relay) HandleVoiceJoin(ctx context.Context, ev VoiceJoin) Outcome {
	cfg := r.config()
	subj := message.Subject{User: ev.User, Channel: ev.Channel, Guild: ev.Guild}
	log := r.log.With(
		logx.String("user", ev.User), logx.String("channel", ev.Channel), logx.String("guild", ev.Guild))

	switch {
	case ev.HadPrevious || ev.ChannelID == "":
		log.Debug("voice state discarded: not a fresh join")
		return r.finish(ctx, TriggerVoiceJoin, OutcomeDiscardedMoved, subj, "", "", nil)
	case cfg.IgnoreBots && ev.Bot:
		log.Debug("voice state discarded: bot user")
		return r.finish(ctx, TriggerVoiceJoin, OutcomeDiscardedBot, subj, "", "", nil)
	case cfg.MaxVoiceMembers > 0 && ev.Members > cfg.MaxVoiceMembers:
		log.Debug("voice state discarded: channel occupied", logx.Int("members", ev.Members))
		return r.finish(ctx, TriggerVoiceJoin, OutcomeDiscardedOccupied, subj, "", "", nil)
	}

	log.Info("voice join relay start")
	if !r.tryFire() {
		log.Info("voice join relay suppressed by cooldown")
		return r.finish(ctx, TriggerVoiceJoin, OutcomeSuppressed, subj, "", "", nil)
	}

	url := r.anims.Random()
	caption := message.Render(message.KindVoiceJoin, subj)
	outcome, err := r.enqueue(ctx, cfg, TriggerVoiceJoin, url, caption)
	if err != nil {
		log.Warn("voice join relay failed", logx.Err(err))
	} else {
		log.Info("voice join relay end")
	}
	return r.finish(ctx, TriggerVoiceJoin, outcome, subj, url, caption, err)
}

// HandleNotify relays a /notify command. An out of range index is rejected
// before the gate is consulted.
func (r *Relay) HandleNotify(ctx context.Context, req NotifyRequest) (Outcome, error) {
	cfg := r.config()
	subj := message.Subject{User: req.User, Channel: req.Channel, Guild: req.Guild, Text: req.Message}
	log := r.log.With(
		logx.String("user", req.User), logx.String("channel", req.Channel), logx.String("guild", req.Guild))

	var url string
	if req.Index != nil {
		u, err := r.anims.At(*req.Index)
		if err != nil {
			log.Info("notify rejected", logx.Int("index", *req.Index), logx.Err(err))
			return r.finish(ctx, TriggerCommand, OutcomeRejected, subj, "", "", err), err
		}
		url = u
	} else {
		url = r.anims.Random()
	}

	kind := message.KindTextCall
	if req.Message != "" {
		kind = message.KindCustom
	}
	caption := message.Render(kind, subj)

	log.Info("notify relay start")
	if cfg.GateCommands && !r.tryFire() {
		log.Info("notify relay suppressed by cooldown")
		return r.finish(ctx, TriggerCommand, OutcomeSuppressed, subj, url, caption, nil), nil
	}

	outcome, err := r.enqueue(ctx, cfg, TriggerCommand, url, caption)
	if err != nil {
		log.Warn("notify relay failed", logx.Err(err))
	} else {
		log.Info("notify relay end")
	}
	return r.finish(ctx, TriggerCommand, outcome, subj, url, caption, err), err
}

// ResetCooldown clears the cooldown window so the next trigger relays.
func (r *Relay) ResetCooldown() {
	r.gate.Reset()
	r.metrics.SetGateArmed(false)
	r.log.Info("cooldown reset")
	if r.bus != nil {
		now := r.clock.Now()
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeCooldownReset, Time: now})
	}
}

// Cooldown reports the gate state at now.
func (r *Relay) Cooldown(now time.Time) CooldownStatus {
	st := CooldownStatus{State: r.gate.State(), TTL: r.gate.TTL(), Remaining: r.gate.Remaining(now)}
	if exp, ok := r.gate.ExpiresAt(); ok {
		st.ExpiresAt = exp
	}
	return st
}

// Now is the relay clock's current time.
func (r *Relay) Now() time.Time { return r.clock.Now() }

func (r *Relay) tryFire() bool {
	ok := r.gate.TryFire(r.clock.Now())
	r.metrics.GateDecision(ok)
	if ok {
		r.metrics.SetGateArmed(true)
	}
	return ok
}

func (r *Relay) enqueue(ctx context.Context, cfg Config, trigger, url, caption string) (Outcome, error) {
	err := r.out.Notify(ctx, notifier.Notification{
		ChatID:       cfg.ChatID,
		AnimationURL: url,
		Caption:      caption,
		Trigger:      trigger,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("enqueue notification: %w", err)
	}
	return OutcomeSent, nil
}

func (r *Relay) finish(ctx context.Context, trigger string, outcome Outcome, subj message.Subject, url, caption string, err error) Outcome {
	r.metrics.RelayOutcome(trigger, string(outcome))

	now := r.clock.Now()
	rec := storage.Record{
		At:           now,
		Trigger:      trigger,
		Outcome:      string(outcome),
		User:         subj.User,
		Channel:      subj.Channel,
		Guild:        subj.Guild,
		AnimationURL: url,
		Caption:      caption,
	}
	if err != nil {
		rec.Error = err.Error()
	}

	// Mute, deafen and channel moves fire constantly; keep them out of history.
	if r.history != nil && outcome != OutcomeDiscardedMoved {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if herr := r.history.AppendRelay(hctx, rec); herr != nil {
			r.log.Warn("history append failed", logx.Err(herr))
		}
		cancel()
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeRelayOutcome, Time: now, Data: OutcomeEvent{
			Trigger: trigger, Outcome: outcome, User: subj.User, Channel: subj.Channel, Guild: subj.Guild, Error: rec.Error,
		}})
	}
	return outcome
}
