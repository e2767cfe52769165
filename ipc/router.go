package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownChannel is returned for channels without a handler.
var ErrUnknownChannel = errors.New("unknown channel")

// HandlerFunc serves one channel. The result must be JSON-serializable.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Router maps channel names to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for channel. It panics on an empty or duplicate
// channel, which is a programming error.
func (r *Router) Handle(channel string, h HandlerFunc) {
	if channel == "" || h == nil {
		panic("ipc: empty channel or nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[channel]; exists {
		panic("ipc: duplicate handler for " + channel)
	}
	r.handlers[channel] = h
}

// Channels returns the registered channel names, sorted.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for ch := range r.handlers {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Dispatch calls the handler of channel.
func (r *Router) Dispatch(ctx context.Context, channel string, args json.RawMessage) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[channel]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return h(ctx, args)
}

// Decode unmarshals args into v. Missing or null args leave v unchanged.
func Decode(args json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Typed adapts a handler taking decoded arguments of type A.
func Typed[A any](fn func(ctx context.Context, args A) (any, error)) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if err := Decode(raw, &args); err != nil {
			return nil, err
		}
		return fn(ctx, args)
	}
}
