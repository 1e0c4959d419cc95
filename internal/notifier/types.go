package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration

	// BreakerFailures consecutive failed sends open the circuit for
	// BreakerTimeout.
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// Notification is one message for one chat.
type Notification struct {
	ChatID       int64
	AnimationURL string
	Caption      string
	// Trigger names what caused the notification (for events and logs).
	Trigger string
}

// Sender is the Telegram side of the pipeline.
type Sender interface {
	SendAnimation(ctx context.Context, chatID int64, url, caption string) error
	SendText(ctx context.Context, chatID int64, text string) error
}

// Delivery is the outcome of one notification after its last attempt.
type Delivery struct {
	At       time.Time
	Trigger  string
	Attempts int
	// Err is empty when the notification was sent.
	Err string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	ChatID       int64     `json:"chat_id"`
	Trigger      string    `json:"trigger,omitempty"`
	AnimationURL string    `json:"animation_url,omitempty"`
	At           time.Time `json:"at"`
	Error        string    `json:"error,omitempty"`
}
