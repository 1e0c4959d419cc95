// Package telegram sends relay notifications through the Telegram Bot API.
//
// The bot runs offline: it never polls for updates, it only sends.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"voxrelay/pkg/logx"
)

const (
	textLimit    = 4000
	captionLimit = 1024
)

type Config struct {
	Token string
	// Timeout bounds every Bot API call (default 10s).
	Timeout time.Duration
	// URL overrides the Bot API endpoint (tests, local bot servers).
	URL string
}

// sender is the subset of *tele.Bot the client needs.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Client struct {
	bot sender
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Client{bot: b, log: log.With(logx.Component("telegram"))}, nil
}

// SetLogger swaps the logger. The app builds the client before the log
// service, which needs the client as its Telegram sink. Call it before use.
func (c *Client) SetLogger(log logx.Logger) { c.log = log.With(logx.Component("telegram")) }

// SendAnimation posts an animation by URL. caption is Telegram HTML with
// every user value already escaped.
func (c *Client) SendAnimation(ctx context.Context, chatID int64, url, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	anim := &tele.Animation{File: tele.FromURL(url), Caption: truncateHTML(caption, captionLimit)}
	_, err := c.bot.Send(tele.ChatID(chatID), anim, &tele.SendOptions{ParseMode: tele.ModeHTML})
	if err != nil {
		return err
	}
	c.log.Debug("animation sent", logx.Int64("chat_id", chatID), logx.String("url", url))
	return nil
}

// SendText posts plain text, split into chunks Telegram accepts.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.bot.Send(tele.ChatID(chatID), chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

// splitText prefers newline boundaries near the end of each window and never
// yields chunks longer than limit runes.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid tiny chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

type htmlToken struct {
	s   string
	tag bool
}

// tokenizeHTML splits s into tags and visible characters. An entity such as
// "&amp;" is one visible character.
func tokenizeHTML(s string) []htmlToken {
	var out []htmlToken
	for i := 0; i < len(s); {
		n := 0
		switch s[i] {
		case '<':
			if j := strings.IndexByte(s[i:], '>'); j >= 0 {
				out = append(out, htmlToken{s: s[i : i+j+1], tag: true})
				i += j + 1
				continue
			}
			n = 1
		case '&':
			if j := strings.IndexByte(s[i:], ';'); j > 0 && j <= 10 {
				n = j + 1
			} else {
				n = 1
			}
		default:
			_, n = utf8.DecodeRuneInString(s[i:])
		}
		out = append(out, htmlToken{s: s[i : i+n]})
		i += n
	}
	return out
}

func tagName(tag string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(tag, "<"), ">")
	name = strings.TrimPrefix(name, "/")
	if i := strings.IndexAny(name, " /"); i >= 0 {
		name = name[:i]
	}
	return name
}

// truncateHTML keeps at most n visible characters of an HTML string. Tags
// and entities are never split and tags left open are closed.
func truncateHTML(s string, n int) string {
	toks := tokenizeHTML(s)
	visible := 0
	for _, t := range toks {
		if !t.tag {
			visible++
		}
	}
	if visible <= n {
		return s
	}

	var (
		b    strings.Builder
		open []string
		kept int
	)
	for _, t := range toks {
		if t.tag {
			if strings.HasPrefix(t.s, "</") {
				if len(open) > 0 {
					open = open[:len(open)-1]
				}
			} else {
				open = append(open, tagName(t.s))
			}
			b.WriteString(t.s)
			continue
		}
		if kept == n-1 {
			break
		}
		b.WriteString(t.s)
		kept++
	}
	b.WriteString("…")
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i] + ">")
	}
	return b.String()
}
