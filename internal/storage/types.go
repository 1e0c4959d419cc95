package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

// Record is one relay decision. Keep it compact and schema-stable.
type Record struct {
	ID           int64     `json:"id,omitempty"`
	At           time.Time `json:"at"`
	Trigger      string    `json:"trigger"`
	Outcome      string    `json:"outcome"`
	User         string    `json:"user,omitempty"`
	Channel      string    `json:"channel,omitempty"`
	Guild        string    `json:"guild,omitempty"`
	AnimationURL string    `json:"animation_url,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	Error        string    `json:"error,omitempty"`
}
