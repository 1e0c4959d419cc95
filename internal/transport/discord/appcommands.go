package discord

import (
	"github.com/bwmarrin/discordgo"

	"voxrelay/internal/commands"
)

// applicationCommands maps registry groups to slash command definitions.
func applicationCommands(groups []commands.Group) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(groups))
	for _, g := range groups {
		ac := &discordgo.ApplicationCommand{Name: g.Name, Description: g.Description}
		if g.Command != nil {
			ac.Options = paramOptions(g.Command.Params)
		}
		for _, sc := range g.Subcommands {
			ac.Options = append(ac.Options, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subName(sc.Route),
				Description: sc.Description,
				Options:     paramOptions(sc.Params),
			})
		}
		out = append(out, ac)
	}
	return out
}

func paramOptions(params []commands.Param) []*discordgo.ApplicationCommandOption {
	if len(params) == 0 {
		return nil
	}
	out := make([]*discordgo.ApplicationCommandOption, 0, len(params))
	for _, p := range params {
		opt := &discordgo.ApplicationCommandOption{
			Name:        p.Name,
			Description: p.Description,
			Required:    p.Required,
		}
		switch p.Kind {
		case commands.ParamInt:
			opt.Type = discordgo.ApplicationCommandOptionInteger
			opt.MinValue = p.MinValue
		default:
			opt.Type = discordgo.ApplicationCommandOptionString
		}
		out = append(out, opt)
	}
	return out
}

func subName(route string) string {
	for i := len(route) - 1; i >= 0; i-- {
		if route[i] == ' ' {
			return route[i+1:]
		}
	}
	return route
}
