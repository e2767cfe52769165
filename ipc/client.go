package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/broomy/broomy-core/events"
)

// ErrClientClosed is returned by calls on a closed client or after the
// daemon hung up.
var ErrClientClosed = errors.New("connection closed")

const clientEventDepth = 256

// Client is a connection to a daemon. It is safe for concurrent use.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Message
	closed  bool
	err     error

	events chan events.Event
	done   chan struct{}
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan *Message),
		events:  make(chan events.Event, clientEventDepth),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.shutdown(err)
			return
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.IsEvent() {
			var payload any
			_ = json.Unmarshal(msg.Payload, &payload)
			select {
			case c.events <- events.Event{Channel: msg.Event, Payload: payload}:
			default:
				// Slow consumer; drop like the daemon's bus does.
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- &msg
		}
	}
}

// shutdown fails every pending call.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call sends a request on channel and decodes its result into out, which
// may be nil. A failed call returns a *CallError.
func (c *Client) Call(ctx context.Context, channel string, args, out any) error {
	return c.CallSession(ctx, "", channel, args, out)
}

// CallSession is Call with the failure scoped to sessionID in the daemon's
// error log.
func (c *Client) CallSession(ctx context.Context, sessionID, channel string, args, out any) error {
	req := Request{ID: uuid.New().String(), Channel: channel, SessionID: sessionID}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to encode arguments: %w", err)
		}
		req.Args = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.send(ctx, data); err != nil {
		c.forget(req.ID)
		return err
	}

	select {
	case <-ctx.Done():
		c.forget(req.ID)
		return ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return ErrClientClosed
		}
		if msg.Error != "" {
			return &CallError{Channel: channel, Message: msg.Error, Category: msg.Category, Suggestion: msg.Suggestion}
		}
		if out == nil || len(msg.Result) == 0 {
			return nil
		}
		return json.Unmarshal(msg.Result, out)
	}
}

func (c *Client) send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	_, err := c.conn.Write(data)
	return err
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Subscribe asks the daemon to forward events whose channel starts with
// any of prefixes (all events when none are given). Events arrive on
// Events().
func (c *Client) Subscribe(ctx context.Context, prefixes ...string) error {
	return c.Call(ctx, ChannelSubscribe, SubscribeArgs{Prefixes: prefixes}, nil)
}

// Events returns the channel of subscribed events. It is closed when the
// connection ends.
func (c *Client) Events() <-chan events.Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
