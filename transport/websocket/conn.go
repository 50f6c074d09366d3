package websocket

import (
	"bufio"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

type outbound struct {
	frame      []byte
	closeAfter bool
}

// Conn is one upgraded client connection. T is the type stored in the
// context slot; a nil context means the client has not joined anything.
//
// Reads are owned by the server's read loop. Sends may be issued from any
// goroutine and never block: frames are queued and written by a dedicated
// writer goroutine.
type Conn[T any] struct {
	id        string
	netConn   net.Conn
	reader    *bufio.Reader
	send      chan outbound
	done      chan struct{}
	writeWait time.Duration
	logger    *log.Logger

	closing   atomic.Bool
	closeOnce sync.Once

	mu  sync.RWMutex
	ctx *T
}

func newConn[T any](nc net.Conn, r *bufio.Reader, cfg Config) *Conn[T] {
	return &Conn[T]{
		id:        uuid.NewString(),
		netConn:   nc,
		reader:    r,
		send:      make(chan outbound, cfg.SendQueueSize),
		done:      make(chan struct{}),
		writeWait: cfg.WriteWait,
		logger:    cfg.Logger,
	}
}

// ID returns the connection's unique identifier.
func (c *Conn[T]) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn[T]) RemoteAddr() string { return c.netConn.RemoteAddr().String() }

// Context returns the context slot, nil when unset.
func (c *Conn[T]) Context() *T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

// SetContext replaces the context slot. Passing nil clears it.
func (c *Conn[T]) SetContext(v *T) {
	c.mu.Lock()
	c.ctx = v
	c.mu.Unlock()
}

// Done is closed once the connection has been terminated.
func (c *Conn[T]) Done() <-chan struct{} { return c.done }

// Closing reports whether a close frame has been queued or the connection
// is already terminated.
func (c *Conn[T]) Closing() bool { return c.closing.Load() }

// SendFrame queues an encoded frame.
func (c *Conn[T]) SendFrame(frame []byte) error {
	if c.closing.Load() {
		return ErrConnClosed
	}
	return c.enqueue(outbound{frame: frame})
}

// SendText queues a text frame.
func (c *Conn[T]) SendText(text string) error {
	return c.SendFrame(EncodeFrame(OpText, []byte(text)))
}

// Ping queues an empty ping frame.
func (c *Conn[T]) Ping() error {
	return c.SendFrame(EncodeFrame(OpPing, nil))
}

func (c *Conn[T]) pong(payload []byte) error {
	return c.SendFrame(EncodeFrame(OpPong, payload))
}

// Close queues a close frame and shuts the socket once it is written.
// Frames queued earlier are flushed first; later sends are rejected.
func (c *Conn[T]) Close(code CloseCode, reason string) error {
	if c.closing.Swap(true) {
		return ErrConnClosed
	}
	if err := c.enqueue(outbound{frame: EncodeClose(code, reason), closeAfter: true}); err != nil {
		c.Terminate()
		return err
	}
	return nil
}

// Terminate closes the socket immediately. It is safe to call more than
// once and on a connection that is already gone.
func (c *Conn[T]) Terminate() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.done)
		c.netConn.Close()
	})
}

func (c *Conn[T]) enqueue(o outbound) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- o:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

// writePump writes queued frames until the connection terminates.
func (c *Conn[T]) writePump() {
	for {
		select {
		case <-c.done:
			return
		case o := <-c.send:
			c.netConn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if _, err := c.netConn.Write(o.frame); err != nil {
				c.logger.Printf("[WS] write to %s failed: %v", c.id, err)
				c.Terminate()
				return
			}
			if o.closeAfter {
				c.Terminate()
				return
			}
		}
	}
}
