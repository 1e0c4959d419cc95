package config

import (
	"reflect"
	"strings"

	"voxrelay/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe log
// fields describing them. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Discord.Token != newCfg.Discord.Token ||
		oldCfg.Discord.GuildID != newCfg.Discord.GuildID ||
		oldCfg.Discord.IgnoreBots != newCfg.Discord.IgnoreBots {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token),
			logx.String("discord.guild_id", newCfg.Discord.GuildID),
			logx.Bool("discord.ignore_bots", newCfg.Discord.IgnoreBots),
		)
	}

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.ChatID) != strings.TrimSpace(newCfg.Telegram.ChatID) ||
		oldCfg.Telegram.InviteLink != newCfg.Telegram.InviteLink ||
		oldCfg.Telegram.SendTimeout != newCfg.Telegram.SendTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.chat_id", strings.TrimSpace(newCfg.Telegram.ChatID)),
			logx.Bool("telegram.invite_set", newCfg.Telegram.InviteLink != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.String("notify.cooldown", newCfg.Notify.Cooldown),
			logx.Int("notify.max_voice_members", newCfg.Notify.MaxVoiceMembers),
			logx.Bool("notify.gate_commands", newCfg.CommandsGated()),
		)
	}

	if oldCfg.Animations != newCfg.Animations {
		changed = append(changed, "animations")
		attrs = append(attrs, logx.String("animations.path", newCfg.Animations.Path))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.Int("notifier.retry_max", n.RetryMax),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if s := newCfg.Storage; s != nil {
			attrs = append(attrs,
				logx.String("storage.driver", s.Driver),
				logx.String("storage.retention", s.Retention),
			)
		}
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	return changed, attrs
}
