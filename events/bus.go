// Package events fans out backend events (PTY output, file changes, session
// status) to IPC clients.
package events

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/broomy/broomy-core/logger"
)

// DefaultDepth is the buffer size of each subscriber channel.
const DefaultDepth = 256

// Event is one published event. Channel names follow "<area>:<kind>:<id>",
// for example "pty:data:abc" or "session:status".
type Event struct {
	Channel string `json:"event"`
	Payload any    `json:"payload"`
}

// Filter selects the events a subscriber receives. A nil filter receives all.
type Filter func(channel string) bool

// Prefix returns a filter matching channels that start with any of prefixes.
// No prefixes matches everything.
func Prefix(prefixes ...string) Filter {
	if len(prefixes) == 0 {
		return nil
	}
	return func(channel string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(channel, p) {
				return true
			}
		}
		return false
	}
}

type subscriber struct {
	ch      chan Event
	filter  Filter
	dropped atomic.Int64
}

// Bus delivers events to subscribers without ever blocking the publisher:
// a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	depth  int
	closed bool
}

// NewBus constructs a Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{}), depth: DefaultDepth}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function. Cancel closes the channel and is safe to call more than once.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.depth), filter: filter}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	logger.WithComponent("events").Debug("subscribe", "subs", count)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
			b.mu.Unlock()
			if n := sub.dropped.Load(); n > 0 {
				logger.WithComponent("events").Debug("unsubscribe", "dropped", n)
			}
		})
	}
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(channel string, payload any) {
	if b == nil {
		return
	}
	ev := Event{Channel: channel, Payload: payload}

	// Sends happen under the read lock so cancel cannot close a channel
	// mid-send; they never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.filter != nil && !sub.filter(channel) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribers returns the current number of subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel and later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
