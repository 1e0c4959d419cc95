package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"voxrelay/internal/config"
	"voxrelay/internal/notifier"
	"voxrelay/internal/observability/ops"
	"voxrelay/internal/relay"
	"voxrelay/internal/storage"
	"voxrelay/internal/task/retention"
	"voxrelay/internal/transport/telegram"
	"voxrelay/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	chatID, _ := strconv.ParseInt(strings.TrimSpace(lc.Telegram.ChatID), 10, 64)
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     chatID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, Timeout: timeout}, nil
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	chatID, err := cfg.TelegramChatID()
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		ChatID:          chatID,
		MaxVoiceMembers: cfg.Notify.MaxVoiceMembers,
		GateCommands:    cfg.CommandsGated(),
		IgnoreBots:      cfg.Discord.IgnoreBots,
	}, nil
}

// mapNotifierConfig treats a missing notifier section as "enabled with
// defaults". Zero values are filled in by notifier.Service.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	sendTimeout, err := config.ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true, SendTimeout: sendTimeout}, nil
	}
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		SendTimeout:     sendTimeout,
		BreakerFailures: n.BreakerFailures,
	}
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.BreakerTimeout, err = config.ParseDurationField("notifier.breaker_timeout", n.BreakerTimeout); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// mapStorageConfig returns a zero Driver when storage is disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, nil
	case "file":
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapRetentionConfig(cfg *config.Config) (retention.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return retention.Config{}, nil
	}
	maxAge, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return retention.Config{}, err
	}
	if err := retention.ValidateSchedule(sc.PruneSchedule); err != nil {
		return retention.Config{}, fmt.Errorf("storage.prune_schedule: invalid %q: %w", sc.PruneSchedule, err)
	}
	return retention.Config{MaxAge: maxAge, Schedule: sc.PruneSchedule}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationField("ops.read_timeout", oc.ReadTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationField("ops.idle_timeout", oc.IdleTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:     oc.Enabled,
		Addr:        strings.TrimSpace(oc.Addr),
		Pprof:       oc.Pprof,
		ReadTimeout: read,
		IdleTimeout: idle,
	}, nil
}

// validateReload rejects a hot reload that some component could not apply.
// config.Validate already ran.
func validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := mapRelayConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRetentionConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	return nil
}
