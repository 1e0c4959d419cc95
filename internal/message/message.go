// Package message renders notification captions as Telegram HTML.
package message

import (
	"fmt"
	"html"
	"strings"
)

// NotObtained replaces any name that could not be resolved.
const NotObtained = "<not_obtained>"

// Kind selects the caption template.
type Kind int

const (
	KindVoiceJoin Kind = iota + 1
	KindTextCall
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindVoiceJoin:
		return "voice_join"
	case KindTextCall:
		return "text_call"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Subject carries the names a caption may reference.
type Subject struct {
	User    string
	Channel string
	Guild   string
	// Text is the whole caption for KindCustom.
	Text string
}

// Render builds the caption for k. Every interpolated value is escaped, so
// the result is safe for Telegram's HTML parse mode. Unknown kinds render "".
func Render(k Kind, s Subject) string {
	switch k {
	case KindVoiceJoin:
		return fmt.Sprintf("%s joined to voice channel %s in server %s. Are you joining?",
			bold(s.User), bold(s.Channel), bold(s.Guild))
	case KindTextCall:
		return fmt.Sprintf("%s is calling in text channel %s in server %s. Are you joining?",
			bold(s.User), bold(s.Channel), bold(s.Guild))
	case KindCustom:
		return Esc(s.Text)
	default:
		return ""
	}
}

// Esc escapes text for Telegram's HTML parse mode.
func Esc(s string) string { return html.EscapeString(s) }

func bold(name string) string {
	if strings.TrimSpace(name) == "" {
		name = NotObtained
	}
	return "<b>" + Esc(name) + "</b>"
}
