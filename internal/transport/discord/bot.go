// Package discord connects the relay and the commands to the Discord gateway.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"voxrelay/internal/commands"
	"voxrelay/internal/relay"
	"voxrelay/pkg/logx"
)

const intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuildMessages

type Config struct {
	Token string
	// GuildID registers commands in one guild (instant) instead of globally.
	GuildID string
}

// VoiceHandler receives voice joins.
type VoiceHandler interface {
	HandleVoiceJoin(ctx context.Context, ev relay.VoiceJoin) relay.Outcome
}

// api is the REST surface of *discordgo.Session the bot uses.
type api interface {
	ApplicationCommandBulkOverwrite(appID, guildID string, cmds []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(i *discordgo.Interaction, r *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

type Bot struct {
	cfg   Config
	log   logx.Logger
	sess  *discordgo.Session
	api   api
	state *discordgo.State

	voice VoiceHandler
	cmds  *commands.Registry

	mu      sync.RWMutex
	baseCtx context.Context

	connected atomic.Bool
}

// ErrDisconnected is reported by Healthy while the gateway is down.
var ErrDisconnected = errors.New("discord gateway disconnected")

func New(cfg Config, voice VoiceHandler, cmds *commands.Registry, log logx.Logger) (*Bot, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = intents

	b := newBot(cfg, s, s.State, voice, cmds, log)
	b.sess = s
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { b.onReady(r) })
	s.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) { b.onVoiceStateUpdate(v) })
	s.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) { b.onInteraction(i) })
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) { b.connected.Store(true) })
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.connected.Store(false)
		b.log.Warn("discord gateway disconnected")
	})
	return b, nil
}

func newBot(cfg Config, a api, state *discordgo.State, voice VoiceHandler, cmds *commands.Registry, log logx.Logger) *Bot {
	return &Bot{
		cfg:     cfg,
		log:     log.With(logx.Component("discord")),
		api:     a,
		state:   state,
		voice:   voice,
		cmds:    cmds,
		baseCtx: context.Background(),
	}
}

func (b *Bot) ctx() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.baseCtx
}

// Run opens the gateway and blocks until ctx is done. discordgo reconnects
// on its own once the first connection succeeded.
func (b *Bot) Run(ctx context.Context) error {
	if b.sess == nil {
		return errors.New("discord session not initialized")
	}
	b.mu.Lock()
	b.baseCtx = ctx
	b.mu.Unlock()

	b.log.Info("discord connecting")
	if err := b.sess.Open(); err != nil {
		return err
	}
	<-ctx.Done()
	b.log.Info("discord disconnecting")
	b.connected.Store(false)
	if err := b.sess.Close(); err != nil {
		b.log.Warn("discord close error", logx.Err(err))
	}
	return nil
}

// Healthy returns nil once Ready arrived and until the gateway drops.
func (b *Bot) Healthy() error {
	if !b.connected.Load() {
		return ErrDisconnected
	}
	return nil
}

func (b *Bot) onReady(r *discordgo.Ready) {
	b.connected.Store(true)
	name := ""
	if r.User != nil {
		name = r.User.Username
	}
	b.log.Info("discord ready", logx.String("user", name), logx.Int("guilds", len(r.Guilds)))

	appID := ""
	if r.Application != nil {
		appID = r.Application.ID
	}
	if appID == "" && r.User != nil {
		appID = r.User.ID
	}
	b.log.Info("command registration start", logx.String("guild_id", b.cfg.GuildID))
	created, err := b.api.ApplicationCommandBulkOverwrite(appID, b.cfg.GuildID, applicationCommands(b.cmds.Groups()))
	if err != nil {
		b.log.Error("command registration failed", logx.Err(err))
		return
	}
	b.log.Info("command registration end", logx.Int("commands", len(created)))
}
