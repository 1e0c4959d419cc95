// Package app wires voxrelay together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"voxrelay/internal/animation"
	"voxrelay/internal/commands"
	"voxrelay/internal/config"
	"voxrelay/internal/debounce"
	"voxrelay/internal/eventbus"
	"voxrelay/internal/metrics"
	"voxrelay/internal/notifier"
	"voxrelay/internal/observability/ops"
	"voxrelay/internal/relay"
	rtsup "voxrelay/internal/runtime/supervisor"
	"voxrelay/internal/storage"
	"voxrelay/internal/task/retention"
	"voxrelay/internal/transport/discord"
	"voxrelay/internal/transport/telegram"
	"voxrelay/pkg/logx"
	"voxrelay/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	reg   *prometheus.Registry
	mets  *metrics.Metrics

	gate    *debounce.Gate
	anims   *animation.Catalog
	tg      *telegram.Client
	notif   *notifier.Service
	relay   *relay.Relay
	cmds    *commands.Registry
	discord *discord.Bot
	ops     *ops.Server
	prune   *retention.Service

	// The notifier outlives the supervisor context so Stop can drain it.
	notifCtx    context.Context
	notifCancel context.CancelFunc
}

// NewApp loads the configuration and builds every component. Nothing runs
// until Start.
func NewApp(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	tg, err := telegram.New(tgCfg, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), tg)
	tg.SetLogger(log)
	a := &App{
		cfgm: cfgm,
		log:  log.With(logx.Component("app")),
		logs: logSvc,
		bus:  eventbus.New(),
		tg:   tg,
	}
	cfgm.SetLogger(log.With(logx.Component("config")))
	cfgm.SetValidator(validateReload)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	if a.store, err = storage.Open(sc, log.With(logx.Component("storage"))); err != nil {
		return nil, a.abort(err)
	}
	if a.store != nil {
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.reg = metrics.NewRegistry()
	a.mets = metrics.New(a.reg)
	if err := metrics.RegisterTasks(a.reg,
		func() float64 { return float64(a.sup.Counters().Active) },
		func() float64 { return float64(a.sup.Counters().Started) },
	); err != nil {
		return nil, a.abort(err)
	}

	cooldown, err := cfg.Cooldown()
	if err != nil {
		return nil, a.abort(err)
	}
	a.gate = debounce.New(cooldown, clockwork.NewRealClock())

	if a.anims, err = animation.Load(cfg.Animations.Path); err != nil {
		return nil, a.abort(fmt.Errorf("animations: %w", err))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.notif = notifier.New(ncfg, tg, log,
		notifier.WithBus(a.bus), notifier.WithMetrics(a.mets))

	rcfg, err := mapRelayConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	ropts := []relay.Option{relay.WithBus(a.bus), relay.WithMetrics(a.mets)}
	deps := commands.Deps{
		Animations: a.anims,
		Deliveries: a.notif,
		InviteLink: func() string { return a.cfgm.Get().Telegram.InviteLink },
	}
	if a.store != nil {
		ropts = append(ropts, relay.WithHistory(a.store))
		deps.History = a.store
	}
	a.relay = relay.New(rcfg, a.gate, a.anims, a.notif, log, ropts...)
	deps.Relay = a.relay

	if a.cmds, err = commands.NewRegistry(log, commands.Builtin(deps)...); err != nil {
		return nil, a.abort(err)
	}
	a.discord, err = discord.New(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	}, a.relay, a.cmds, log)
	if err != nil {
		return nil, a.abort(err)
	}

	a.ops = ops.New(metrics.Handler(a.reg), a.health, log)

	rc, err := mapRetentionConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	var pruner retention.Pruner
	if a.store != nil {
		pruner = a.store
	}
	a.prune = retention.New(rc, pruner, log)

	a.log.Info("app configured",
		logx.Duration("cooldown", cooldown),
		logx.Int("animations", a.anims.Len()),
		logx.Bool("gate_commands", rcfg.GateCommands),
		logx.Int("max_voice_members", rcfg.MaxVoiceMembers),
	)
	return a, nil
}

// abort releases what NewApp opened before failing.
func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	return err
}

// Done is closed when the app supervisor context is canceled (fatal error or
// Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health(context.Context) map[string]error {
	out := map[string]error{
		"discord":  a.discord.Healthy(),
		"notifier": nil,
	}
	if a.notif.Enabled() && a.notif.BreakerState() == "open" {
		out["notifier"] = errors.New("telegram circuit open")
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.startNotifier(c)

	cfg := a.cfgm.Get()
	oc, err := mapOpsConfig(cfg)
	if err != nil {
		return err
	}
	if err := a.ops.Apply(c, oc); err != nil {
		return err
	}
	if err := a.prune.Start(c); err != nil {
		return err
	}

	a.sup.GoRestart("discord", a.discord.Run)

	// Debug log of every bus event.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.RunWatchdog(c, systemd.WatchdogInterval(), func() bool {
			return a.sup.Err() == nil
		}, a.log)
	})
	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	}

	a.log.Info("app started")
	return nil
}

func (a *App) startNotifier(ctx context.Context) {
	a.notifCtx, a.notifCancel = context.WithCancel(context.WithoutCancel(ctx))
	a.notif.Start(a.notifCtx)
}

func (a *App) notifierContext() context.Context {
	if a.notifCtx == nil {
		return context.Background()
	}
	return a.notifCtx
}

// reloadLoop applies published configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the latest of a burst.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			_, _ = systemd.Reloading()
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
			_, _ = systemd.Ready()
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := make(map[string]bool, len(sections))
	for _, s := range sections {
		changed[s] = true
	}

	// Logging first so the rest of the reload logs through the new sinks.
	if changed["logging"] {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if oldCfg.Notify.Cooldown != newCfg.Notify.Cooldown {
		a.log.Warn("notify.cooldown changed; restart required for it to take effect",
			logx.Duration("active", a.gate.TTL()), logx.String("configured", newCfg.Notify.Cooldown))
	}
	if oldCfg.Discord.Token != newCfg.Discord.Token || oldCfg.Discord.GuildID != newCfg.Discord.GuildID {
		a.log.Warn("discord settings changed; restart required for them to take effect")
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		a.log.Warn("telegram.token changed; restart required for it to take effect")
	}
	if cfgStorageChanged(oldCfg, newCfg) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if changed["animations"] {
		if err := a.anims.Reload(newCfg.Animations.Path); err != nil {
			a.log.Warn("animations reload failed; keeping previous list", logx.Err(err))
		} else {
			a.log.Info("animations reloaded", logx.Int("count", a.anims.Len()))
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeAnimationsUpdated, Time: time.Now(), Data: a.anims.Len()})
		}
	}

	if rc, err := mapRelayConfig(newCfg); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.relay.Apply(rc)
	}

	if changed["notifier"] || changed["telegram"] {
		a.applyNotifier(ctx, newCfg)
	}

	if oc, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else if err := a.ops.Apply(ctx, oc); err != nil {
		a.log.Warn("ops server apply failed", logx.Err(err))
	}

	if rc, err := mapRetentionConfig(newCfg); err != nil {
		a.log.Warn("invalid retention config; keeping previous", logx.Err(err))
	} else if err := a.prune.Apply(rc); err != nil {
		a.log.Warn("retention apply failed", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyNotifier(ctx context.Context, newCfg *config.Config) {
	ncfg, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(a.notifierContext())
	}
}

// cfgStorageChanged ignores the retention fields, which apply live.
func cfgStorageChanged(oldCfg, newCfg *config.Config) bool {
	o, n := oldCfg.Storage, newCfg.Storage
	if o == nil || n == nil {
		return (o == nil) != (n == nil)
	}
	return o.Driver != n.Driver || o.Path != n.Path || o.BusyTimeout != n.BusyTimeout
}

// Stop shuts components down in dependency order. Each step is bounded so a
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	}

	// Discord and the reload loop unwind on cancel. Queued notifications
	// are drained by the notifier step.
	a.sup.Cancel()

	a.step(ctx, "retention", time.Second, func(c context.Context) error { a.prune.Stop(c); return nil })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.notifCancel != nil {
		a.notifCancel()
	}
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs fn with at most limit of the caller's remaining time. A step that
// outlives its deadline is logged and left running.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
