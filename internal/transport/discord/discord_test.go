package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxrelay/internal/animation"
	"voxrelay/internal/commands"
	"voxrelay/internal/message"
	"voxrelay/internal/relay"
	"voxrelay/pkg/logx"
)

type fakeAPI struct {
	mu        sync.Mutex
	overwrite []*discordgo.ApplicationCommand
	appID     string
	responses []*discordgo.InteractionResponse
	followups []*discordgo.WebhookParams
	channels  map[string]*discordgo.Channel
	guilds    map[string]*discordgo.Guild
	users     map[string]*discordgo.User
	lookups   int
}

func (f *fakeAPI) ApplicationCommandBulkOverwrite(appID, _ string, cmds []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	f.appID = appID
	f.overwrite = cmds
	return cmds, nil
}

func (f *fakeAPI) InteractionRespond(_ *discordgo.Interaction, r *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, r)
	return nil
}

func (f *fakeAPI) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, data)
	return &discordgo.Message{}, nil
}

var errNotFound = errors.New("404 not found")

func (f *fakeAPI) Channel(id string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.lookups++
	if c, ok := f.channels[id]; ok {
		return c, nil
	}
	return nil, errNotFound
}

func (f *fakeAPI) Guild(id string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	f.lookups++
	if g, ok := f.guilds[id]; ok {
		return g, nil
	}
	return nil, errNotFound
}

func (f *fakeAPI) User(id string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	f.lookups++
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errNotFound
}

type fakeVoice struct {
	got []relay.VoiceJoin
}

func (f *fakeVoice) HandleVoiceJoin(_ context.Context, ev relay.VoiceJoin) relay.Outcome {
	f.got = append(f.got, ev)
	return relay.OutcomeSent
}

type fakeRelay struct{}

func (fakeRelay) HandleNotify(context.Context, relay.NotifyRequest) (relay.Outcome, error) {
	return relay.OutcomeSent, nil
}
func (fakeRelay) ResetCooldown()                          {}
func (fakeRelay) Cooldown(time.Time) relay.CooldownStatus { return relay.CooldownStatus{} }
func (fakeRelay) Now() time.Time                          { return time.Time{} }

func registry(t *testing.T, urls int) *commands.Registry {
	t.Helper()
	list := make([]string, urls)
	for i := range list {
		list[i] = fmt.Sprintf("https://example.com/%d.gif", i)
	}
	cat, err := animation.New(list)
	require.NoError(t, err)
	reg, err := commands.NewRegistry(logx.Nop(), commands.Builtin(commands.Deps{
		Relay:      fakeRelay{},
		Animations: cat,
		InviteLink: func() string { return "https://t.me/+abc" },
	})...)
	require.NoError(t, err)
	return reg
}

func cachedState(t *testing.T) *discordgo.State {
	t.Helper()
	st := discordgo.NewState()
	require.NoError(t, st.GuildAdd(&discordgo.Guild{
		ID:   "g1",
		Name: "Friends",
		Channels: []*discordgo.Channel{
			{ID: "c1", GuildID: "g1", Name: "General", Type: discordgo.ChannelTypeGuildVoice},
			{ID: "t1", GuildID: "g1", Name: "chat", Type: discordgo.ChannelTypeGuildText},
		},
		VoiceStates: []*discordgo.VoiceState{
			{GuildID: "g1", UserID: "u1", ChannelID: "c1"},
		},
	}))
	return st
}

func TestApplicationCommands(t *testing.T) {
	cmds := applicationCommands(registry(t, 1).Groups())

	byName := map[string]*discordgo.ApplicationCommand{}
	for _, c := range cmds {
		byName[c.Name] = c
	}
	require.Len(t, byName, 5)

	notify := byName["notify"]
	require.Len(t, notify.Options, 2)
	assert.Equal(t, "index", notify.Options[0].Name)
	assert.Equal(t, discordgo.ApplicationCommandOptionInteger, notify.Options[0].Type)
	require.NotNil(t, notify.Options[0].MinValue)
	assert.Equal(t, 0.0, *notify.Options[0].MinValue)
	assert.False(t, notify.Options[0].Required)
	assert.Equal(t, discordgo.ApplicationCommandOptionString, notify.Options[1].Type)

	cooldown := byName["cooldown"]
	require.Len(t, cooldown.Options, 2)
	assert.Equal(t, discordgo.ApplicationCommandOptionSubCommand, cooldown.Options[0].Type)
	assert.Equal(t, "reset", cooldown.Options[0].Name)
	assert.Equal(t, "status", cooldown.Options[1].Name)

	anims := byName["animations"]
	require.Len(t, anims.Options, 1)
	assert.Equal(t, "list", anims.Options[0].Name)
}

func TestReadyRegistersCommands(t *testing.T) {
	fa := &fakeAPI{}
	b := newBot(Config{}, fa, discordgo.NewState(), &fakeVoice{}, registry(t, 1), logx.Nop())
	assert.ErrorIs(t, b.Healthy(), ErrDisconnected)
	b.onReady(&discordgo.Ready{User: &discordgo.User{ID: "bot", Username: "voxrelay"}, Application: &discordgo.Application{ID: "app"}})
	assert.Equal(t, "app", fa.appID)
	assert.Len(t, fa.overwrite, 5)
	assert.NoError(t, b.Healthy())
}

func TestVoiceJoinFromState(t *testing.T) {
	fa := &fakeAPI{}
	fv := &fakeVoice{}
	b := newBot(Config{}, fa, cachedState(t), fv, registry(t, 1), logx.Nop())

	b.onVoiceStateUpdate(&discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{
		GuildID: "g1", UserID: "u1", ChannelID: "c1",
		Member: &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "alice"}},
	}})

	require.Len(t, fv.got, 1)
	assert.Equal(t, relay.VoiceJoin{
		UserID: "u1", User: "alice", ChannelID: "c1", Channel: "General", Guild: "Friends", Members: 1,
	}, fv.got[0])
	assert.Zero(t, fa.lookups)
}

func TestVoiceJoinFallsBackToREST(t *testing.T) {
	fa := &fakeAPI{
		channels: map[string]*discordgo.Channel{"c9": {ID: "c9", Name: "Lounge"}},
		guilds:   map[string]*discordgo.Guild{"g9": {ID: "g9", Name: "Remote"}},
		users:    map[string]*discordgo.User{"u9": {ID: "u9", Username: "bob", Bot: true}},
	}
	fv := &fakeVoice{}
	b := newBot(Config{}, fa, discordgo.NewState(), fv, registry(t, 1), logx.Nop())

	b.onVoiceStateUpdate(&discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "g9", UserID: "u9", ChannelID: "c9"}})
	require.Len(t, fv.got, 1)
	ev := fv.got[0]
	assert.Equal(t, "bob", ev.User)
	assert.True(t, ev.Bot)
	assert.Equal(t, "Lounge", ev.Channel)
	assert.Equal(t, "Remote", ev.Guild)
	assert.Equal(t, 0, ev.Members)
}

func TestVoiceJoinUnresolvedNames(t *testing.T) {
	fv := &fakeVoice{}
	b := newBot(Config{}, &fakeAPI{}, discordgo.NewState(), fv, registry(t, 1), logx.Nop())
	b.onVoiceStateUpdate(&discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "g", UserID: "u", ChannelID: "c"}})
	require.Len(t, fv.got, 1)
	assert.Equal(t, message.NotObtained, fv.got[0].User)
	assert.Equal(t, message.NotObtained, fv.got[0].Channel)
	assert.Equal(t, message.NotObtained, fv.got[0].Guild)
}

func TestVoiceMoveSkipsLookups(t *testing.T) {
	fa := &fakeAPI{}
	fv := &fakeVoice{}
	b := newBot(Config{}, fa, discordgo.NewState(), fv, registry(t, 1), logx.Nop())

	b.onVoiceStateUpdate(&discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "g", UserID: "u", ChannelID: "c2"},
		BeforeUpdate: &discordgo.VoiceState{GuildID: "g", UserID: "u", ChannelID: "c1"},
	})
	require.Len(t, fv.got, 1)
	assert.True(t, fv.got[0].HadPrevious)
	assert.Zero(t, fa.lookups)
}

func command(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "t1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "alice"}},
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}}
}

func TestCommandRequestFlattensSubcommand(t *testing.T) {
	req := commandRequest(discordgo.ApplicationCommandInteractionData{
		Name: "cooldown",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "status"},
		},
	})
	assert.Equal(t, "cooldown status", req.Route)

	req = commandRequest(discordgo.ApplicationCommandInteractionData{
		Name: "notify",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "index", Value: float64(2)},
			{Type: discordgo.ApplicationCommandOptionString, Name: "message", Value: "hi"},
		},
	})
	assert.Equal(t, "notify", req.Route)
	assert.Equal(t, int64(2), req.Ints["index"])
	assert.Equal(t, "hi", req.Strings["message"])
}

func TestInteractionInvite(t *testing.T) {
	fa := &fakeAPI{}
	b := newBot(Config{}, fa, cachedState(t), &fakeVoice{}, registry(t, 1), logx.Nop())

	b.onInteraction(command("invite"))
	require.Len(t, fa.responses, 1)
	r := fa.responses[0]
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, r.Type)
	assert.Equal(t, "Use this link to join our telegram!\nhttps://t.me/+abc", r.Data.Content)
	assert.Zero(t, r.Data.Flags)
}

func TestInteractionUnknownCommand(t *testing.T) {
	fa := &fakeAPI{}
	b := newBot(Config{}, fa, cachedState(t), &fakeVoice{}, registry(t, 1), logx.Nop())
	b.onInteraction(command("ping"))
	require.Len(t, fa.responses, 1)
	assert.Equal(t, commands.UnknownCommandReply, fa.responses[0].Data.Content)
}

func TestInteractionAnimationsListFollowUps(t *testing.T) {
	fa := &fakeAPI{}
	b := newBot(Config{}, fa, cachedState(t), &fakeVoice{}, registry(t, 15), logx.Nop())

	b.onInteraction(command("animations",
		&discordgo.ApplicationCommandInteractionDataOption{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list"}))

	require.Len(t, fa.responses, 1)
	require.Len(t, fa.responses[0].Data.Embeds, 10)
	assert.Equal(t, "0", fa.responses[0].Data.Embeds[0].Title)
	assert.Equal(t, "https://example.com/0.gif", fa.responses[0].Data.Embeds[0].Image.URL)
	require.Len(t, fa.followups, 1)
	assert.Len(t, fa.followups[0].Embeds, 5)
}

func TestInteractionIgnoresOtherTypes(t *testing.T) {
	fa := &fakeAPI{}
	b := newBot(Config{}, fa, cachedState(t), &fakeVoice{}, registry(t, 1), logx.Nop())
	b.onInteraction(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}})
	assert.Empty(t, fa.responses)
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: ""}, &fakeVoice{}, registry(t, 1), logx.Nop())
	assert.Error(t, err)
}
