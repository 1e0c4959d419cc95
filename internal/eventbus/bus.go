// Package eventbus is an in-memory fanout used to decouple the relay, the
// notifier and observers such as the history recorder.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by voxrelay components.
const (
	TypeRelayOutcome      = "relay.outcome"
	TypeCooldownReset     = "relay.cooldown_reset"
	TypeNotifierQueued    = "notifier.queued"
	TypeNotifierSent      = "notifier.sent"
	TypeNotifierFailed    = "notifier.failed"
	TypeNotifierDropped   = "notifier.dropped"
	TypeConfigReloaded    = "config.reloaded"
	TypeAnimationsUpdated = "animations.updated"
)

// Event is a small in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels and may miss events when slow.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Deliver under the read lock; unsubscribe takes the write lock before
	// closing, so a send never races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
