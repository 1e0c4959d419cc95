package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks everything the bot needs to start. It reports all problems
// at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		errs = append(errs, fmt.Errorf("discord.token: %w (%s)", ErrMissingEnv, EnvDiscordToken))
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token: %w (%s)", ErrMissingEnv, EnvTelegramToken))
	}
	if strings.TrimSpace(cfg.Telegram.ChatID) == "" {
		errs = append(errs, fmt.Errorf("telegram.chat_id: %w (%s)", ErrMissingEnv, EnvTelegramChatID))
	} else if _, err := cfg.TelegramChatID(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(cfg.Notify.Cooldown) == "" {
		errs = append(errs, fmt.Errorf("notify.cooldown: %w (%s)", ErrMissingEnv, EnvNotifyTTLSeconds))
	} else if _, err := cfg.Cooldown(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Notify.MaxVoiceMembers < 0 {
		errs = append(errs, errors.New("notify.max_voice_members must be >= 0"))
	}
	if _, err := ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.Telegram.Enabled {
		if _, err := strconv.ParseInt(strings.TrimSpace(cfg.Logging.Telegram.ChatID), 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("logging.telegram.chat_id: invalid %q", cfg.Logging.Telegram.ChatID))
		}
	}
	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.BreakerFailures < 0 {
			errs = append(errs, errors.New("notifier: workers, queue_size, rate_per_sec, retry_max and breaker_failures must be >= 0"))
		}
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.breaker_timeout": n.BreakerTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("storage.retention", s.Retention); err != nil {
			errs = append(errs, err)
		}
	}
	for path, raw := range map[string]string{
		"ops.read_timeout": cfg.Ops.ReadTimeout,
		"ops.idle_timeout": cfg.Ops.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cooldown returns the parsed notify.cooldown.
func (c *Config) Cooldown() (time.Duration, error) {
	return ParseDurationField("notify.cooldown", c.Notify.Cooldown)
}

// TelegramChatID returns telegram.chat_id as an integer.
func (c *Config) TelegramChatID() (int64, error) {
	raw := strings.TrimSpace(c.Telegram.ChatID)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.chat_id: invalid %q: %w", raw, err)
	}
	return id, nil
}

// CommandsGated reports whether /notify shares the cooldown window.
func (c *Config) CommandsGated() bool {
	if c.Notify.GateCommands == nil {
		return true
	}
	return *c.Notify.GateCommands
}
