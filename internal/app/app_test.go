package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxrelay/internal/animation"
	"voxrelay/internal/config"
	"voxrelay/internal/debounce"
	"voxrelay/internal/eventbus"
	"voxrelay/internal/notifier"
	"voxrelay/internal/observability/ops"
	"voxrelay/internal/relay"
	rtsup "voxrelay/internal/runtime/supervisor"
	"voxrelay/internal/task/retention"
	"voxrelay/pkg/logx"
)

func boolPtr(b bool) *bool { return &b }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.Discord.Token = "d"
	cfg.Telegram.Token = "t"
	cfg.Telegram.ChatID = "-1001"
	cfg.Notify.Cooldown = "1m"
	return cfg
}

func TestMapRelayConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Notify.MaxVoiceMembers = 3
	cfg.Notify.GateCommands = boolPtr(false)
	cfg.Discord.IgnoreBots = true

	rc, err := mapRelayConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, relay.Config{ChatID: -1001, MaxVoiceMembers: 3, GateCommands: false, IgnoreBots: true}, rc)

	cfg.Telegram.ChatID = "abc"
	_, err = mapRelayConfig(cfg)
	assert.Error(t, err)
}

func TestMapNotifierConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Telegram.SendTimeout = "7s"

	nc, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, notifier.Config{Enabled: true, SendTimeout: 7 * time.Second}, nc)

	cfg.Notifier = &config.NotifierConfig{
		Enabled:         true,
		Workers:         4,
		RetryMax:        2,
		RetryBase:       "250ms",
		RetryMaxDelay:   "5s",
		BreakerFailures: 3,
		BreakerTimeout:  "1m",
	}
	nc, err = mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, nc.Workers)
	assert.Equal(t, 250*time.Millisecond, nc.RetryBase)
	assert.Equal(t, 5*time.Second, nc.RetryMaxDelay)
	assert.Equal(t, time.Minute, nc.BreakerTimeout)
	assert.Equal(t, 3, nc.BreakerFailures)

	cfg.Notifier.RetryBase = "soon"
	_, err = mapNotifierConfig(cfg)
	assert.ErrorContains(t, err, "notifier.retry_base")
}

func TestMapStorageConfig(t *testing.T) {
	cfg := baseConfig()
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, sc.Driver)

	cfg.Storage = &config.StorageConfig{Driver: "None"}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, sc.Driver)

	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "./x.db"}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	cfg.Storage = &config.StorageConfig{Driver: "sqlite"}
	_, err = mapStorageConfig(cfg)
	assert.ErrorContains(t, err, "storage.path")

	cfg.Storage = &config.StorageConfig{Driver: "file", Path: "./h.jsonl"}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "file", sc.Driver)

	cfg.Storage = &config.StorageConfig{Driver: "redis"}
	_, err = mapStorageConfig(cfg)
	assert.Error(t, err)
}

func TestMapRetentionConfig(t *testing.T) {
	cfg := baseConfig()
	rc, err := mapRetentionConfig(cfg)
	require.NoError(t, err)
	assert.Zero(t, rc.MaxAge)

	cfg.Storage = &config.StorageConfig{Driver: "file", Retention: "720h", PruneSchedule: "0 4 * * *"}
	rc, err = mapRetentionConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, rc.MaxAge)
	assert.Equal(t, "0 4 * * *", rc.Schedule)

	cfg.Storage.PruneSchedule = "whenever"
	_, err = mapRetentionConfig(cfg)
	assert.ErrorContains(t, err, "storage.prune_schedule")
	assert.Error(t, validateReload(context.Background(), cfg))
}

func TestMapOpsAndLogConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Ops = config.OpsConfig{Enabled: true, Addr: " 127.0.0.1:0 ", Pprof: true, ReadTimeout: "3s"}
	oc, err := mapOpsConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, ops.Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true, ReadTimeout: 3 * time.Second}, oc)

	cfg.Logging.Telegram = config.LoggingTelegram{Enabled: true, ChatID: "-42", MinLevel: "error", RatePerSec: 2}
	lc := mapLogConfig(cfg)
	assert.Equal(t, int64(-42), lc.Telegram.ChatID)
	assert.Equal(t, "error", lc.Telegram.MinLevel)
	assert.True(t, lc.Console)
}

func TestCfgStorageChangedIgnoresRetention(t *testing.T) {
	a, b := baseConfig(), baseConfig()
	assert.False(t, cfgStorageChanged(a, b))

	b.Storage = &config.StorageConfig{Driver: "file"}
	assert.True(t, cfgStorageChanged(a, b))

	a.Storage = &config.StorageConfig{Driver: "file"}
	b.Storage = &config.StorageConfig{Driver: "file", Retention: "24h"}
	assert.False(t, cfgStorageChanged(a, b))

	b.Storage.Path = "./other.jsonl"
	assert.True(t, cfgStorageChanged(a, b))
}

type nopSender struct{}

func (nopSender) SendAnimation(context.Context, int64, string, string) error { return nil }
func (nopSender) SendText(context.Context, int64, string) error              { return nil }

// heldSender blocks every send until release is closed.
type heldSender struct {
	release chan struct{}
	entered chan struct{}

	mu       sync.Mutex
	captions []string
}

func (h *heldSender) SendAnimation(ctx context.Context, _ int64, _, caption string) error {
	select {
	case h.entered <- struct{}{}:
	default:
	}
	select {
	case <-h.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.captions = append(h.captions, caption)
	return nil
}

func (h *heldSender) SendText(ctx context.Context, chatID int64, text string) error {
	return h.SendAnimation(ctx, chatID, "", text)
}

func (h *heldSender) sent() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.captions...)
}

func newTestApp(t *testing.T, animPath string) *App {
	t.Helper()
	anims, err := animation.Load(animPath)
	require.NoError(t, err)
	logs, log := logx.New(logx.Config{}, nil)
	t.Cleanup(func() { _ = logs.Close() })

	bus := eventbus.New()
	gate := debounce.New(time.Minute, nil)
	notif := notifier.New(notifier.Config{Enabled: true}, nopSender{}, log, notifier.WithBus(bus))
	return &App{
		cfgm:  config.NewManager(""),
		log:   log,
		logs:  logs,
		bus:   bus,
		gate:  gate,
		anims: anims,
		notif: notif,
		relay: relay.New(relay.Config{ChatID: 1}, gate, anims, notif, log),
		ops:   ops.New(http.NotFoundHandler(), nil, log),
		prune: retention.New(retention.Config{}, nil, log),
	}
}

func collect(ch <-chan eventbus.Event) []string {
	var types []string
	for {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		default:
			return types
		}
	}
}

func TestApplyConfigReloadsAnimationsAndNotifier(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "a.json", `["https://a.example/1.gif"]`)
	second := writeFile(t, dir, "b.json", `["https://b.example/1.gif","https://b.example/2.gif"]`)
	a := newTestApp(t, first)
	events, unsub := a.bus.Subscribe(16)
	defer unsub()

	oldCfg := baseConfig()
	oldCfg.Animations.Path = first
	newCfg := baseConfig()
	newCfg.Animations.Path = second
	newCfg.Notifier = &config.NotifierConfig{Enabled: false}

	a.applyConfig(context.Background(), oldCfg, newCfg)

	assert.Equal(t, 2, a.anims.Len())
	assert.False(t, a.notif.Enabled())
	assert.Equal(t, []string{eventbus.TypeAnimationsUpdated, eventbus.TypeConfigReloaded}, collect(events))
}

func TestApplyConfigKeepsAnimationsOnBadFile(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "a.json", `["https://a.example/1.gif"]`)
	broken := writeFile(t, dir, "broken.json", `[]`)
	a := newTestApp(t, first)

	oldCfg := baseConfig()
	oldCfg.Animations.Path = first
	newCfg := baseConfig()
	newCfg.Animations.Path = broken
	newCfg.Notify.Cooldown = "5m"

	a.applyConfig(context.Background(), oldCfg, newCfg)
	assert.Equal(t, []string{"https://a.example/1.gif"}, a.anims.All())
	// The gate keeps its startup window.
	assert.Equal(t, time.Minute, a.gate.TTL())
}

func TestApplyConfigNoChanges(t *testing.T) {
	dir := t.TempDir()
	a := newTestApp(t, writeFile(t, dir, "a.json", `["u"]`))
	events, unsub := a.bus.Subscribe(4)
	defer unsub()

	cfg := baseConfig()
	a.applyConfig(context.Background(), cfg, cfg)
	assert.Empty(t, collect(events))
}

func TestNewAppFailsWithoutAnimations(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "animations:\n  path: "+filepath.Join(dir, "missing.json")+"\n")
	t.Setenv(config.EnvDiscordToken, "d")
	t.Setenv(config.EnvTelegramToken, "123:abc")
	t.Setenv(config.EnvTelegramChatID, "-1001")
	t.Setenv(config.EnvNotifyTTLSeconds, "60")

	_, err := NewApp(cfgPath)
	assert.ErrorContains(t, err, "animations")
}

func TestNewAppBuildsAndStopsWithoutStart(t *testing.T) {
	dir := t.TempDir()
	anims := writeFile(t, dir, "anims.json", `["https://example.com/a.gif"]`)
	cfgPath := writeFile(t, dir, "config.yaml", `
animations:
  path: `+anims+`
storage:
  driver: file
  path: `+filepath.Join(dir, "history.jsonl")+`
  retention: 24h
`)
	t.Setenv(config.EnvDiscordToken, "d")
	t.Setenv(config.EnvTelegramToken, "123:abc")
	t.Setenv(config.EnvTelegramChatID, "-1001")
	t.Setenv(config.EnvNotifyTTLSeconds, "60")

	a, err := NewApp(cfgPath)
	require.NoError(t, err)
	require.NotNil(t, a.store)
	assert.True(t, a.prune.Enabled())

	health := a.health(context.Background())
	assert.Error(t, health["discord"])
	assert.NoError(t, health["notifier"])

	assert.NoError(t, a.Stop(context.Background(), StopSignal))
	require.NoError(t, a.store.Close())
}

func TestStopDrainsQueuedNotifications(t *testing.T) {
	dir := t.TempDir()
	a := newTestApp(t, writeFile(t, dir, "a.json", `["u"]`))
	snd := &heldSender{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	a.notif = notifier.New(notifier.Config{Enabled: true, Workers: 1, RatePerSec: 1000}, snd, a.log)
	a.sup = rtsup.New(context.Background())
	a.startNotifier(a.sup.Context())

	ctx := context.Background()
	require.NoError(t, a.notif.Notify(ctx, notifier.Notification{ChatID: 1, AnimationURL: "u", Caption: "first"}))
	select {
	case <-snd.entered:
	case <-time.After(time.Second):
		t.Fatal("first notification never reached the sender")
	}
	require.NoError(t, a.notif.Notify(ctx, notifier.Notification{ChatID: 1, AnimationURL: "u", Caption: "second"}))

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(snd.release)
	}()
	require.NoError(t, a.Stop(ctx, StopSignal))

	assert.Equal(t, []string{"first", "second"}, snd.sent())
	assert.Error(t, a.notifCtx.Err())
}
