package websocket

import (
	"context"
	"log"
	"sync"
	"time"
)

// Target is anything the watchdog can probe and shut down.
type Target interface {
	comparable
	ID() string
	Ping() error
	Close(code CloseCode, reason string) error
	Terminate()
}

type watchEntry struct {
	lastPong time.Time
	closing  bool
}

// Watchdog pings idle targets and shuts down the ones that stop answering.
//
// Per tick, a target silent for one interval gets a ping. After two
// intervals it is sent a protocol-error close. If it is still registered
// on a later tick it is terminated outright.
type Watchdog[K Target] struct {
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[K]*watchEntry
}

// NewWatchdog creates a watchdog ticking every interval.
func NewWatchdog[K Target](interval time.Duration, logger *log.Logger) *Watchdog[K] {
	if logger == nil {
		logger = log.Default()
	}
	return &Watchdog[K]{
		interval: interval,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[K]*watchEntry),
	}
}

// Watch starts tracking k as if it had just answered a ping.
func (w *Watchdog[K]) Watch(k K) {
	w.mu.Lock()
	w.entries[k] = &watchEntry{lastPong: w.now()}
	w.mu.Unlock()
}

// Unwatch stops tracking k.
func (w *Watchdog[K]) Unwatch(k K) {
	w.mu.Lock()
	delete(w.entries, k)
	w.mu.Unlock()
}

// Pong records a pong from k.
func (w *Watchdog[K]) Pong(k K) {
	w.mu.Lock()
	if e, ok := w.entries[k]; ok {
		e.lastPong = w.now()
	}
	w.mu.Unlock()
}

// Len returns the number of watched targets.
func (w *Watchdog[K]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

type watchAction int

const (
	actPing watchAction = iota
	actClose
	actTerminate
)

// Tick runs one check as of now. Sends happen after the lock is released.
func (w *Watchdog[K]) Tick(now time.Time) {
	type step struct {
		target K
		action watchAction
	}
	var steps []step

	w.mu.Lock()
	for k, e := range w.entries {
		elapsed := now.Sub(e.lastPong)
		switch {
		case e.closing:
			steps = append(steps, step{k, actTerminate})
			delete(w.entries, k)
		case elapsed >= 2*w.interval:
			e.closing = true
			steps = append(steps, step{k, actClose})
		case elapsed >= w.interval:
			steps = append(steps, step{k, actPing})
		}
	}
	w.mu.Unlock()

	for _, s := range steps {
		switch s.action {
		case actPing:
			if err := s.target.Ping(); err != nil {
				w.logger.Printf("[WATCHDOG] ping %s failed: %v", s.target.ID(), err)
				w.markClosing(s.target)
			}
		case actClose:
			w.logger.Printf("[WATCHDOG] %s timed out, closing", s.target.ID())
			s.target.Close(CloseProtocolError, "player timeout")
		case actTerminate:
			w.logger.Printf("[WATCHDOG] terminating unresponsive %s", s.target.ID())
			s.target.Terminate()
		}
	}
}

// markClosing makes the next tick terminate k.
func (w *Watchdog[K]) markClosing(k K) {
	w.mu.Lock()
	if e, ok := w.entries[k]; ok {
		e.closing = true
	}
	w.mu.Unlock()
}

// Run ticks until ctx is done.
func (w *Watchdog[K]) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			w.Tick(t)
		}
	}
}
