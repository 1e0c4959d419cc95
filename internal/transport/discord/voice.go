package discord

import (
	"github.com/bwmarrin/discordgo"

	"voxrelay/internal/message"
	"voxrelay/internal/relay"
	"voxrelay/pkg/logx"
)

func (b *Bot) onVoiceStateUpdate(v *discordgo.VoiceStateUpdate) {
	if v == nil || v.VoiceState == nil {
		return
	}
	ev := relay.VoiceJoin{
		UserID:      v.UserID,
		HadPrevious: v.BeforeUpdate != nil,
		ChannelID:   v.ChannelID,
	}
	fresh := !ev.HadPrevious && ev.ChannelID != ""

	// Only fresh joins are worth REST lookups; everything else is discarded.
	ev.User, ev.Bot = b.userName(v.GuildID, v.UserID, v.Member, fresh)
	if fresh {
		ev.Channel = b.channelName(v.ChannelID, true)
		ev.Guild = b.guildName(v.GuildID, true)
		ev.Members = b.voiceMembers(v.GuildID, v.ChannelID)
	}
	b.voice.HandleVoiceJoin(b.ctx(), ev)
}

// voiceMembers counts the voice states in channelID from the state cache.
// It returns 0 when the guild is not cached.
func (b *Bot) voiceMembers(guildID, channelID string) int {
	if b.state == nil {
		return 0
	}
	g, err := b.state.Guild(guildID)
	if err != nil {
		b.log.Debug("guild not in state; member count unknown", logx.String("guild_id", guildID))
		return 0
	}
	b.state.RLock()
	defer b.state.RUnlock()
	n := 0
	for _, vs := range g.VoiceStates {
		if vs != nil && vs.ChannelID == channelID {
			n++
		}
	}
	return n
}

func (b *Bot) userName(guildID, userID string, m *discordgo.Member, rest bool) (string, bool) {
	if m != nil && m.User != nil {
		return m.User.Username, m.User.Bot
	}
	if b.state != nil {
		if sm, err := b.state.Member(guildID, userID); err == nil && sm.User != nil {
			return sm.User.Username, sm.User.Bot
		}
	}
	if rest && userID != "" {
		u, err := b.api.User(userID)
		if err == nil {
			return u.Username, u.Bot
		}
		b.log.Debug("user lookup failed", logx.String("user_id", userID), logx.Err(err))
	}
	return message.NotObtained, false
}

func (b *Bot) channelName(channelID string, rest bool) string {
	if channelID == "" {
		return message.NotObtained
	}
	if b.state != nil {
		if c, err := b.state.Channel(channelID); err == nil {
			return c.Name
		}
	}
	if rest {
		c, err := b.api.Channel(channelID)
		if err == nil {
			return c.Name
		}
		b.log.Debug("channel lookup failed", logx.String("channel_id", channelID), logx.Err(err))
	}
	return message.NotObtained
}

func (b *Bot) guildName(guildID string, rest bool) string {
	if guildID == "" {
		return message.NotObtained
	}
	if b.state != nil {
		if g, err := b.state.Guild(guildID); err == nil && g.Name != "" {
			return g.Name
		}
	}
	if rest {
		g, err := b.api.Guild(guildID)
		if err == nil {
			return g.Name
		}
		b.log.Debug("guild lookup failed", logx.String("guild_id", guildID), logx.Err(err))
	}
	return message.NotObtained
}
