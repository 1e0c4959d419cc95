package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"voxrelay/internal/animation"
	"voxrelay/internal/debounce"
	"voxrelay/internal/notifier"
	"voxrelay/internal/relay"
	"voxrelay/internal/storage"
)

const (
	embedsPerMessage   = 10
	defaultHistorySize = 10
	maxHistorySize     = 25
	// Discord rejects message content above 2000 characters.
	contentLimit = 2000
)

// Relay is the part of the relay the commands drive.
type Relay interface {
	HandleNotify(ctx context.Context, req relay.NotifyRequest) (relay.Outcome, error)
	ResetCooldown()
	Cooldown(now time.Time) relay.CooldownStatus
	Now() time.Time
}

type AnimationList interface {
	All() []string
}

type HistoryReader interface {
	Recent(ctx context.Context, n int) ([]storage.Record, error)
}

// DeliveryReader reports the last Telegram delivery.
type DeliveryReader interface {
	LastDelivery() (notifier.Delivery, bool)
}

type Deps struct {
	Relay      Relay
	Animations AnimationList
	// Deliveries adds a last-delivery line to cooldown status when set.
	Deliveries DeliveryReader
	// InviteLink is read on every /invite so hot reloads apply.
	InviteLink func() string
	// History may be nil when storage is disabled.
	History HistoryReader
}

func minValue(v float64) *float64 { return &v }

// Builtin returns the bot's command set.
func Builtin(d Deps) []Command {
	return []Command{
		{
			Route:       "notify",
			Description: "Notify everyone via text channel",
			Params: []Param{
				{Name: "index", Description: "Index of the chosen media to send", Kind: ParamInt, MinValue: minValue(0)},
				{Name: "message", Description: "Custom message to send", Kind: ParamString},
			},
			Timeout: 10 * time.Second,
			Handle:  d.notify,
		},
		{
			Route:       "animations list",
			Description: "List all animation urls",
			Handle:      d.animationsList,
		},
		{
			Route:       "invite",
			Description: "Display an invite link to a telegram group",
			Handle:      d.invite,
		},
		{
			Route:       "cooldown status",
			Description: "Show the notification cooldown",
			Handle:      d.cooldownStatus,
		},
		{
			Route:       "cooldown reset",
			Description: "Clear the notification cooldown",
			Handle:      d.cooldownReset,
		},
		{
			Route:       "history",
			Description: "Show recent relays",
			Params: []Param{
				{Name: "count", Description: "How many entries to show (max 25)", Kind: ParamInt, MinValue: minValue(1)},
			},
			Timeout: 5 * time.Second,
			Handle:  d.history,
		},
	}
}

func (d Deps) notify(ctx context.Context, req *Request) (Response, error) {
	nr := relay.NotifyRequest{User: req.User, Channel: req.Channel, Guild: req.Guild}
	if v, ok := req.Int("index"); ok {
		idx := int(v)
		if int64(idx) != v {
			return Response{}, fmt.Errorf("animation index %d does not exist", v)
		}
		nr.Index = &idx
	}
	if v, ok := req.String("message"); ok {
		nr.Message = strings.TrimSpace(v)
	}

	out, err := d.Relay.HandleNotify(ctx, nr)
	switch {
	case errors.Is(err, animation.ErrIndexOutOfRange):
		return Response{}, fmt.Errorf("animation index %d does not exist", *nr.Index)
	case err != nil:
		return Response{}, errors.New("could not queue the notification")
	}

	switch out {
	case relay.OutcomeSuppressed:
		st := d.Relay.Cooldown(d.Relay.Now())
		return Response{
			Content:   fmt.Sprintf("Notification suppressed: cooldown active for %s.", formatRemaining(st.Remaining)),
			Ephemeral: true,
		}, nil
	default:
		return Response{Content: "Notification sent!"}, nil
	}
}

func (d Deps) animationsList(_ context.Context, _ *Request) (Response, error) {
	urls := d.Animations.All()
	if len(urls) == 0 {
		return Response{Content: "No animations configured."}, nil
	}
	var pages []Response
	for start := 0; start < len(urls); start += embedsPerMessage {
		end := min(start+embedsPerMessage, len(urls))
		page := Response{Embeds: make([]Embed, 0, end-start)}
		for i := start; i < end; i++ {
			page.Embeds = append(page.Embeds, Embed{Title: strconv.Itoa(i), ImageURL: urls[i]})
		}
		pages = append(pages, page)
	}
	first := pages[0]
	first.FollowUps = pages[1:]
	return first, nil
}

func (d Deps) invite(_ context.Context, _ *Request) (Response, error) {
	link := ""
	if d.InviteLink != nil {
		link = strings.TrimSpace(d.InviteLink())
	}
	if link == "" {
		return Response{Content: "No telegram invite link is configured.", Ephemeral: true}, nil
	}
	return Response{Content: "Use this link to join our telegram!\n" + link}, nil
}

func (d Deps) cooldownStatus(_ context.Context, _ *Request) (Response, error) {
	now := d.Relay.Now()
	st := d.Relay.Cooldown(now)
	var msg string
	switch {
	case st.State == debounce.StateIdle:
		msg = "Cooldown idle: the next trigger will be relayed."
	case st.Remaining > 0:
		msg = fmt.Sprintf("Cooldown active: %s remaining (until %s UTC).",
			formatRemaining(st.Remaining), st.ExpiresAt.UTC().Format(time.DateTime))
	default:
		msg = "Cooldown expired: the next trigger will be relayed."
	}
	msg += fmt.Sprintf("\nWindow: %s.", st.TTL)
	if d.Deliveries != nil {
		msg += "\n" + formatDelivery(d.Deliveries.LastDelivery())
	}
	return Response{Content: msg, Ephemeral: true}, nil
}

func (d Deps) cooldownReset(_ context.Context, _ *Request) (Response, error) {
	d.Relay.ResetCooldown()
	return Response{Content: "Cooldown reset: the next trigger will be relayed."}, nil
}

func (d Deps) history(ctx context.Context, req *Request) (Response, error) {
	if d.History == nil {
		return Response{Content: "History is disabled.", Ephemeral: true}, nil
	}
	n := defaultHistorySize
	if v, ok := req.Int("count"); ok && v > 0 {
		n = int(min(v, maxHistorySize))
	}
	recs, err := d.History.Recent(ctx, n)
	if err != nil {
		return Response{}, fmt.Errorf("could not read history: %w", err)
	}
	if len(recs) == 0 {
		return Response{Content: "No relays recorded yet.", Ephemeral: true}, nil
	}

	var b strings.Builder
	for _, r := range recs {
		line := formatRecord(r)
		if b.Len()+len(line)+1 > contentLimit {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return Response{Content: strings.TrimRight(b.String(), "\n"), Ephemeral: true}, nil
}

func formatRecord(r storage.Record) string {
	line := fmt.Sprintf("`%s` %s **%s**", r.At.UTC().Format(time.DateTime), r.Trigger, r.Outcome)
	if r.User != "" {
		line += " " + r.User
	}
	if r.Channel != "" {
		line += " in " + r.Channel
	}
	if r.Guild != "" {
		line += " (" + r.Guild + ")"
	}
	if r.Error != "" {
		line += ": " + r.Error
	}
	return line
}

func formatDelivery(d notifier.Delivery, ok bool) string {
	if !ok {
		return "Last delivery: none yet."
	}
	at := d.At.UTC().Format(time.DateTime)
	if d.Err != "" {
		return fmt.Sprintf("Last delivery: failed at %s UTC after %d attempt(s): %s.", at, d.Attempts, d.Err)
	}
	return fmt.Sprintf("Last delivery: sent at %s UTC (%s, %d attempt(s)).", at, d.Trigger, d.Attempts)
}

func formatRemaining(d time.Duration) string {
	if d < time.Second {
		return "less than a second"
	}
	return d.Round(time.Second).String()
}
