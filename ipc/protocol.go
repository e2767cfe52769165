package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/broomy/broomy-core/apperror"
)

// Built-in channels answered by the server.
const (
	ChannelSubscribe   = "events:subscribe"
	ChannelUnsubscribe = "events:unsubscribe"
)

// Request is one call from a client.
type Request struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Args      json.RawMessage `json:"args,omitempty"`
	SessionID string          `json:"sessionId,omitempty"` // Scopes a failure to a session
}

// Message is anything the server writes: a response (ID set) or an event
// (Event set).
type Message struct {
	ID         string            `json:"id,omitempty"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	Category   apperror.Category `json:"category,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Event      string            `json:"event,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

// IsEvent reports whether m is an event rather than a response.
func (m *Message) IsEvent() bool {
	return m.Event != ""
}

// SubscribeArgs are the arguments of events:subscribe.
type SubscribeArgs struct {
	Prefixes []string `json:"prefixes,omitempty"` // Empty subscribes to everything
}

// CallError is a failed call as seen by a client.
type CallError struct {
	Channel    string
	Message    string
	Category   apperror.Category
	Suggestion string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Channel, e.Message)
}

// Envelope is the result of operations that report success in-band instead
// of failing the call.
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Result converts err into an Envelope.
func Result(err error) Envelope {
	if err != nil {
		return Envelope{Success: false, Error: err.Error()}
	}
	return Envelope{Success: true}
}
