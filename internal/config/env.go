package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvDiscordToken     = "DISCORD_BOT_TOKEN"
	EnvTelegramToken    = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
	EnvTelegramInvite   = "TELEGRAM_INVITE_LINK"
	EnvNotifyTTLSeconds = "NOTIFY_TTL_SECONDS"
	EnvLogLevel         = "LOG_LEVEL"
)

var ErrMissingEnv = errors.New("required setting not defined")

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE pairs from files into the process environment
// without overriding variables that are already set. Missing files are
// ignored; with no arguments ".env" is tried.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables on cfg. Set variables win over file
// values. NOTIFY_TTL_SECONDS must be a non-negative integer.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvDiscordToken); ok {
		cfg.Discord.Token = v
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvTelegramChatID); ok {
		cfg.Telegram.ChatID = v
	}
	if v, ok := get(EnvTelegramInvite); ok {
		cfg.Telegram.InviteLink = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvNotifyTTLSeconds); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: want a non-negative integer number of seconds, got %q", EnvNotifyTTLSeconds, v)
		}
		cfg.Notify.Cooldown = strconv.FormatInt(n, 10) + "s"
	}
	return nil
}
