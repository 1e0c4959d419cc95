package discord

import (
	"github.com/bwmarrin/discordgo"

	"voxrelay/internal/commands"
	"voxrelay/pkg/logx"
)

func (b *Bot) onInteraction(i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	req := commandRequest(i.ApplicationCommandData())
	req.User = interactionUser(i.Interaction)
	req.Channel = b.channelName(i.ChannelID, true)
	req.Guild = b.guildName(i.GuildID, true)

	resp := b.cmds.Dispatch(b.ctx(), req)
	b.respond(i.Interaction, req.Route, resp)
}

// commandRequest flattens one level of subcommand into the route.
func commandRequest(data discordgo.ApplicationCommandInteractionData) *commands.Request {
	req := &commands.Request{
		Route:   data.Name,
		Strings: map[string]string{},
		Ints:    map[string]int64{},
	}
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		req.Route += " " + opts[0].Name
		opts = opts[0].Options
	}
	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionInteger:
			req.Ints[o.Name] = o.IntValue()
		case discordgo.ApplicationCommandOptionString:
			req.Strings[o.Name] = o.StringValue()
		}
	}
	return req
}

func interactionUser(i *discordgo.Interaction) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.Username
	case i.User != nil:
		return i.User.Username
	default:
		return ""
	}
}

func (b *Bot) respond(i *discordgo.Interaction, route string, resp commands.Response) {
	content := resp.Content
	if content == "" && len(resp.Embeds) == 0 {
		content = "Done."
	}
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Embeds:  embeds(resp.Embeds),
			Flags:   flags(resp.Ephemeral),
		},
	})
	if err != nil {
		b.log.Error("cannot respond to slash command", logx.String("route", route), logx.Err(err))
		return
	}
	for n, f := range resp.FollowUps {
		_, err := b.api.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
			Content: f.Content,
			Embeds:  embeds(f.Embeds),
			Flags:   flags(f.Ephemeral || resp.Ephemeral),
		})
		if err != nil {
			b.log.Warn("follow-up failed", logx.String("route", route), logx.Int("part", n+1), logx.Err(err))
			return
		}
	}
}

func embeds(in []commands.Embed) []*discordgo.MessageEmbed {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		me := &discordgo.MessageEmbed{Title: e.Title}
		if e.ImageURL != "" {
			me.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
		}
		out = append(out, me)
	}
	return out
}

func flags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}
