package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/broomy/broomy-core/apperror"
	"github.com/broomy/broomy-core/events"
	"github.com/broomy/broomy-core/logger"
)

const (
	// ReadTimeout bounds each read so connection handlers notice shutdown.
	ReadTimeout = 10 * time.Second

	// WriteTimeout prevents a stalled client from blocking the daemon.
	WriteTimeout = 10 * time.Second

	// MaxMessageSize is the longest request line accepted.
	MaxMessageSize = 16 << 20

	dialProbeTimeout = 500 * time.Millisecond
)

// ErrAlreadyRunning is returned when another daemon answers on the socket.
var ErrAlreadyRunning = errors.New("a daemon is already listening on this socket")

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithEventBus lets clients subscribe to events from bus.
func WithEventBus(bus *events.Bus) ServerOption {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithErrorLog records failed calls in log.
func WithErrorLog(log *apperror.Log) ServerOption {
	return func(s *Server) {
		s.errors = log
	}
}

// Server accepts client connections on a Unix socket and dispatches their
// requests to a Router.
type Server struct {
	socketPath string
	listener   net.Listener
	router     *Router
	bus        *events.Bus
	errors     *apperror.Log

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool           // Set to true when Close() is called
	closedMu sync.RWMutex   // Guards closed flag
	wg       sync.WaitGroup // Tracks Run() and connection handlers
	readyCh  chan struct{}  // Closed when the server is ready to accept connections
	log      *slog.Logger

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer listens on socketPath. A stale socket file left by a crashed
// daemon is replaced; a live one is an error.
func NewServer(socketPath string, router *Router, opts ...ServerOption) (*Server, error) {
	log := logger.WithComponent("ipc")

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if _, err := os.Stat(socketPath); err == nil {
		if conn, err := net.DialTimeout("unix", socketPath, dialProbeTimeout); err == nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, socketPath)
		}
		log.Info("removing stale socket", "socketPath", socketPath)
		os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		listener.Close()
		return nil, err
	}
	log.Info("listening", "socketPath", socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		socketPath: socketPath,
		listener:   listener,
		router:     router,
		ctx:        ctx,
		cancel:     cancel,
		readyCh:    make(chan struct{}),
		log:        log,
		conns:      make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SocketPath returns the path to the socket
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start launches Run() in a goroutine. It increments the WaitGroup before
// starting the goroutine to avoid a race with Close()/wg.Wait().
func (s *Server) Start() {
	s.wg.Add(1)
	go s.Run()
}

// WaitReady blocks until the server is ready to accept connections.
func (s *Server) WaitReady() {
	<-s.readyCh
}

func (s *Server) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

// Run accepts connections until Close. Use Start() instead of calling
// go Run() directly.
func (s *Server) Run() {
	defer s.wg.Done()

	close(s.readyCh)

	for {
		if s.isClosed() {
			s.log.Info("server closed, stopping accept loop")
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.log.Info("listener closed, stopping")
				return
			}
			s.log.Warn("accept error (continuing)", "error", err)
			continue
		}

		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Close stops accepting, closes client connections, waits for handlers
// and removes the socket file.
func (s *Server) Close() error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	s.closedMu.Unlock()

	s.log.Info("closing server")
	s.cancel()
	err := s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	os.Remove(s.socketPath)
	return err
}

// clientConn is the state of one accepted connection.
type clientConn struct {
	conn    net.Conn
	writeMu sync.Mutex

	subMu       sync.Mutex
	unsubscribe func()
}

func (c *clientConn) write(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	_, err = c.conn.Write(data)
	return err
}

func (c *clientConn) stopEvents() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	c := &clientConn{conn: conn}
	ctx, cancel := context.WithCancel(s.ctx)
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		c.stopEvents()
		inflight.Wait()
		conn.Close()
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
	}()
	s.log.Debug("connection accepted")

	reader := bufio.NewReader(conn)
	var pending []byte

	for {
		if s.isClosed() {
			return
		}
		conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		chunk, err := reader.ReadSlice('\n')
		pending = append(pending, chunk...)
		if len(pending) > MaxMessageSize {
			s.log.Warn("request too large, closing connection", "size", len(pending))
			return
		}
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && !s.isClosed() {
				// Keep any partial line and wait for the rest.
				continue
			}
			if !errors.Is(err, io.EOF) && !s.isClosed() && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("read error", "error", err)
			}
			return
		}

		line := bytes.TrimSpace(pending)
		pending = nil
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn("JSON parse error", "error", err)
			_ = c.write(&Message{Error: "invalid request: " + err.Error(), Category: apperror.CategoryUnknown})
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.serve(ctx, c, &req)
		}()
	}
}

// serve answers one request.
func (s *Server) serve(ctx context.Context, c *clientConn, req *Request) {
	var result any
	var err error
	switch req.Channel {
	case ChannelSubscribe:
		result, err = s.subscribe(c, req.Args)
	case ChannelUnsubscribe:
		c.stopEvents()
		result = true
	default:
		result, err = s.router.Dispatch(ctx, req.Channel, req.Args)
	}

	resp := &Message{ID: req.ID}
	if err == nil {
		resp.Result, err = json.Marshal(result)
	}
	if err != nil {
		s.fail(resp, req, err)
	}
	if werr := c.write(resp); werr != nil {
		s.log.Debug("failed to write response", "channel", req.Channel, "error", werr)
	}
}

func (s *Server) fail(resp *Message, req *Request, err error) {
	cat := apperror.Categorize(err.Error())
	resp.Result = nil
	resp.Error = err.Error()
	resp.Category = cat.Category
	resp.Suggestion = cat.Suggestion

	if errors.Is(err, ErrUnknownChannel) {
		s.log.Warn("unknown channel", "channel", req.Channel)
		return
	}
	s.log.Warn("call failed", "channel", req.Channel, "category", cat.Category, "error", err)
	if s.errors != nil {
		s.errors.Record(err, req.SessionID)
	}
}

// subscribe forwards bus events to c, replacing any previous subscription.
func (s *Server) subscribe(c *clientConn, raw json.RawMessage) (any, error) {
	if s.bus == nil {
		return nil, errors.New("events are not available")
	}
	var args SubscribeArgs
	if err := Decode(raw, &args); err != nil {
		return nil, err
	}

	c.stopEvents()
	ch, unsubscribe := s.bus.Subscribe(events.Prefix(args.Prefixes...))
	c.subMu.Lock()
	c.unsubscribe = unsubscribe
	c.subMu.Unlock()

	go func() {
		for ev := range ch {
			payload, err := json.Marshal(ev.Payload)
			if err != nil {
				s.log.Warn("failed to encode event", "event", ev.Channel, "error", err)
				continue
			}
			if err := c.write(&Message{Event: ev.Channel, Payload: payload}); err != nil {
				return
			}
		}
	}()
	return true, nil
}
