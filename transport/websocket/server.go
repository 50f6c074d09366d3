package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// Time allowed to write a frame to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed for the client to send its upgrade request.
	defaultHandshakeTimeout = 10 * time.Second

	// Watchdog tick. A peer silent for two ticks is closed.
	defaultPingInterval = 60 * time.Second

	// Maximum payload accepted from a peer.
	defaultMaxPayload = 64 * 1024

	defaultSendQueueSize = 256
	readBufferSize       = 4096
)

// Config tunes a Server. Zero fields take their defaults.
type Config struct {
	PingInterval     time.Duration
	WriteWait        time.Duration
	HandshakeTimeout time.Duration
	MaxPayload       int64
	SendQueueSize    int
	Logger           *log.Logger
	Debug            bool
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = defaultMaxPayload
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Handlers are the application callbacks a Server invokes. Any of them may
// be nil. Ping, pong and close frames are handled by the server itself.
type Handlers[T any] struct {
	// OnOpen runs after the handshake, before the first frame is read.
	OnOpen func(c *Conn[T])
	// OnText runs for every text frame, on the connection's read goroutine.
	OnText func(c *Conn[T], text string)
	// OnClose runs exactly once when the connection goes away, for any reason.
	OnClose func(c *Conn[T])
}

// Server accepts TCP connections, performs the WebSocket handshake and runs
// one read loop and one writer per connection.
type Server[T any] struct {
	cfg      Config
	handlers Handlers[T]
	hub      *Hub[*Conn[T]]
	watchdog *Watchdog[*Conn[T]]
	logger   *log.Logger

	mu        sync.Mutex
	conns     map[*Conn[T]]struct{}
	listeners map[net.Listener]struct{}
	shutdown  bool
	stopWatch context.CancelFunc

	wg sync.WaitGroup
}

// NewServer creates a server that dispatches to h.
func NewServer[T any](cfg Config, h Handlers[T]) *Server[T] {
	cfg = cfg.withDefaults()
	return &Server[T]{
		cfg:       cfg,
		handlers:  h,
		hub:       NewHub[*Conn[T]](cfg.Logger),
		watchdog:  NewWatchdog[*Conn[T]](cfg.PingInterval, cfg.Logger),
		logger:    cfg.Logger,
		conns:     make(map[*Conn[T]]struct{}),
		listeners: make(map[net.Listener]struct{}),
	}
}

// Hub returns the broadcast registry shared by all connections.
func (s *Server[T]) Hub() *Hub[*Conn[T]] { return s.hub }

// ConnCount returns the number of live connections.
func (s *Server[T]) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server[T]) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or ln is closed. It
// may be called for several listeners at once.
func (s *Server[T]) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		ln.Close()
		return ErrConnClosed
	}
	s.listeners[ln] = struct{}{}
	if s.stopWatch == nil {
		wctx, cancel := context.WithCancel(context.Background())
		s.stopWatch = cancel
		go s.watchdog.Run(wctx)
	}
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	s.logger.Printf("[WS] listening on %s", ln.Addr())

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isShutdown() || errors.Is(err, net.ErrClosed) {
				s.forgetListener(ln)
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(backoff*2, 5*time.Millisecond), time.Second)
				s.logger.Printf("[WS] accept error: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			s.forgetListener(ln)
			return fmt.Errorf("accept failed: %w", err)
		}
		backoff = 0
		s.wg.Add(1)
		go s.handle(nc)
	}
}

func (s *Server[T]) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server[T]) forgetListener(ln net.Listener) {
	s.mu.Lock()
	delete(s.listeners, ln)
	s.mu.Unlock()
}

// Shutdown stops accepting, sends a going-away close to every connection
// and waits for them to finish. Connections still open when ctx expires
// are terminated.
func (s *Server[T]) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	for ln := range s.listeners {
		ln.Close()
	}
	conns := make([]*Conn[T], 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	if s.stopWatch != nil {
		s.stopWatch()
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close(CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			c.Terminate()
		}
		return ctx.Err()
	}
}

func (s *Server[T]) handle(nc net.Conn) {
	defer s.wg.Done()

	r := bufio.NewReaderSize(nc, readBufferSize)
	nc.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	key, err := ReadHandshake(r)
	if err != nil {
		s.logger.Printf("[WS] rejecting %s: %v", nc.RemoteAddr(), err)
		nc.Close()
		return
	}
	if _, err := nc.Write(HandshakeResponse(key)); err != nil {
		s.logger.Printf("[WS] handshake write to %s failed: %v", nc.RemoteAddr(), err)
		nc.Close()
		return
	}
	nc.SetDeadline(time.Time{})

	c := newConn[T](nc, r, s.cfg)
	if !s.track(c) {
		c.Terminate()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()

	s.watchdog.Watch(c)
	s.logger.Printf("[WS] %s connected from %s", c.ID(), c.RemoteAddr())
	if s.handlers.OnOpen != nil {
		s.safely(c, "open", func() { s.handlers.OnOpen(c) })
	}

	s.readLoop(c)
	s.teardown(c)
}

func (s *Server[T]) track(c *Conn[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

// readLoop reads one frame at a time and dispatches it before reading the
// next. It returns when the connection must stop reading.
func (s *Server[T]) readLoop(c *Conn[T]) {
	for {
		f, err := ReadFrame(c.reader, s.cfg.MaxPayload)
		if err != nil {
			switch {
			case errors.Is(err, ErrMalformedFrame):
				s.logger.Printf("[WS] %s sent a malformed frame: %v", c.ID(), err)
				c.Close(CloseProtocolError, "malformed frame")
			case errors.Is(err, ErrFrameTooLarge):
				s.logger.Printf("[WS] %s: %v", c.ID(), err)
				c.Close(CloseMessageTooBig, "message too big")
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), c.Closing():
			default:
				s.logger.Printf("[WS] read from %s failed: %v", c.ID(), err)
			}
			return
		}
		if !f.Masked {
			s.logger.Printf("[WS] %s sent an unmasked frame", c.ID())
			c.Close(CloseProtocolError, "unmasked client frame")
			return
		}
		if s.cfg.Debug {
			s.logger.Printf("[WS] %s <- %s (%d bytes)", c.ID(), f.Opcode, len(f.Payload))
		}

		keepReading := true
		s.safely(c, "dispatch", func() { keepReading = s.dispatch(c, f) })
		if !keepReading || c.Closing() {
			return
		}
	}
}

// dispatch handles one frame and reports whether reading should continue.
func (s *Server[T]) dispatch(c *Conn[T], f Frame) bool {
	switch f.Opcode {
	case OpText:
		if !f.Final {
			c.Close(CloseProtocolError, "fragmented messages are not supported")
			return false
		}
		if !utf8.Valid(f.Payload) {
			c.Close(CloseInvalidPayload, "invalid utf-8")
			return false
		}
		if s.handlers.OnText != nil {
			s.handlers.OnText(c, string(f.Payload))
		}
		return true
	case OpBinary:
		c.Close(CloseUnsupportedData, "binary frames are not supported")
		return false
	case OpContinuation:
		c.Close(CloseProtocolError, "unexpected continuation frame")
		return false
	case OpPing:
		if err := c.pong(f.Payload); err != nil {
			s.logger.Printf("[WS] pong to %s failed: %v", c.ID(), err)
		}
		return true
	case OpPong:
		s.watchdog.Pong(c)
		return true
	case OpClose:
		if _, _, err := ParseClose(f.Payload); err != nil {
			c.Close(CloseProtocolError, "malformed close frame")
			return false
		}
		c.Close(CloseNormal, "")
		return false
	}
	c.Close(CloseProtocolError, "unexpected opcode")
	return false
}

// safely runs fn and turns a panic into termination of c alone.
func (s *Server[T]) safely(c *Conn[T], stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("[WS] panic during %s on %s: %v", stage, c.ID(), r)
			c.Terminate()
		}
	}()
	fn()
}

func (s *Server[T]) teardown(c *Conn[T]) {
	if s.handlers.OnClose != nil {
		s.safely(c, "close", func() { s.handlers.OnClose(c) })
	}
	s.hub.UnsubscribeAll(c)
	s.watchdog.Unwatch(c)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	if c.Closing() {
		// The writer terminates once the close frame is out; the timer only
		// covers a writer that never gets there.
		select {
		case <-c.Done():
		case <-time.After(s.cfg.WriteWait):
			c.Terminate()
		}
	} else {
		c.Terminate()
	}
	s.logger.Printf("[WS] %s disconnected", c.ID())
}
