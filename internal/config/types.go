package config

// Config is the on-disk configuration. Secrets may instead come from the
// environment (see ApplyEnv).
type Config struct {
	Discord    DiscordConfig    `json:"discord"`
	Telegram   TelegramConfig   `json:"telegram"`
	Notify     NotifyConfig     `json:"notify"`
	Animations AnimationsConfig `json:"animations"`
	Logging    LoggingConfig    `json:"logging"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Ops      OpsConfig       `json:"ops,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token"`
	// GuildID limits slash command registration to one guild. Empty registers
	// global commands.
	GuildID string `json:"guild_id,omitempty"`
	// IgnoreBots skips voice joins by bot accounts.
	IgnoreBots bool `json:"ignore_bots,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID string `json:"chat_id"`
	// InviteLink is shown by the /invite command.
	InviteLink string `json:"invite_link,omitempty"`
	// SendTimeout is a Go duration string for Bot API calls (default "10s").
	SendTimeout string `json:"send_timeout,omitempty"`
}

// NotifyConfig controls when relays happen.
type NotifyConfig struct {
	// Cooldown is the debounce window as a Go duration string (e.g. "600s").
	// Required, here or via NOTIFY_TTL_SECONDS. "0s" means every trigger is
	// relayed. It is read once at startup.
	Cooldown string `json:"cooldown"`
	// MaxVoiceMembers is the largest voice channel population (including the
	// joining user) that still triggers a relay. Default 1; 0 disables the
	// check.
	MaxVoiceMembers int `json:"max_voice_members,omitempty"`
	// GateCommands makes /notify share the voice-join cooldown window.
	// Defaults to true when omitted.
	GateCommands *bool `json:"gate_commands,omitempty"`
}

type AnimationsConfig struct {
	Path string `json:"path"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// NotifierConfig controls the async delivery pipeline.
//
// All durations are Go duration strings. If the whole section is omitted the
// notifier runs with defaults.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures int    `json:"breaker_failures,omitempty"`
	BreakerTimeout  string `json:"breaker_timeout,omitempty"`
}

// StorageConfig controls the optional relay history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/voxrelay.db", "retention": "720h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Retention drops history older than this duration. Empty keeps everything.
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron spec for the retention job (default "@daily").
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// OpsConfig controls the optional operations HTTP server (/metrics,
// /healthz, /debug/pprof/).
//
// Prefer binding to localhost.
type OpsConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
	Pprof       bool   `json:"pprof,omitempty"`
	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Notify:     NotifyConfig{MaxVoiceMembers: 1},
		Animations: AnimationsConfig{Path: "animation_urls.json"},
		Logging:    LoggingConfig{Level: "info", Console: true},
	}
}
