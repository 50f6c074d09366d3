package websocket

import (
	"log"
	"sort"
	"sync"
)

// Subscriber is anything a Hub can deliver frames to.
type Subscriber interface {
	comparable
	ID() string
	SendFrame(frame []byte) error
	Terminate()
}

// Hub maps channel names to subscriber sets and fans frames out to them.
type Hub[S Subscriber] struct {
	logger *log.Logger

	mu          sync.RWMutex
	channels    map[string]map[S]struct{}
	memberships map[S]map[string]struct{}
}

// NewHub creates an empty hub.
func NewHub[S Subscriber](logger *log.Logger) *Hub[S] {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub[S]{
		logger:      logger,
		channels:    make(map[string]map[S]struct{}),
		memberships: make(map[S]map[string]struct{}),
	}
}

// Subscribe adds s to channel.
func (h *Hub[S]) Subscribe(channel string, s S) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[S]struct{})
	}
	h.channels[channel][s] = struct{}{}
	if h.memberships[s] == nil {
		h.memberships[s] = make(map[string]struct{})
	}
	h.memberships[s][channel] = struct{}{}
}

// Unsubscribe removes s from channel. An emptied channel is deleted.
func (h *Hub[S]) Unsubscribe(channel string, s S) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(channel, s)
}

func (h *Hub[S]) unsubscribeLocked(channel string, s S) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	if chans, ok := h.memberships[s]; ok {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(h.memberships, s)
		}
	}
}

// UnsubscribeAll removes s from every channel it belongs to.
func (h *Hub[S]) UnsubscribeAll(s S) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range h.memberships[s] {
		h.unsubscribeLocked(channel, s)
	}
}

// Members returns a snapshot of channel's subscribers.
func (h *Hub[S]) Members(channel string) []S {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]S, 0, len(h.channels[channel]))
	for s := range h.channels[channel] {
		out = append(out, s)
	}
	return out
}

// Count returns the number of subscribers on channel.
func (h *Hub[S]) Count(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Channels lists the channels that currently have subscribers.
func (h *Hub[S]) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.channels))
	for name := range h.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Publish sends frame to every subscriber of channel and returns how many
// accepted it. A subscriber whose send fails is dropped from all channels
// and terminated; delivery to the rest continues.
func (h *Hub[S]) Publish(channel string, frame []byte) int {
	delivered := 0
	for _, s := range h.Members(channel) {
		if err := s.SendFrame(frame); err != nil {
			h.logger.Printf("[HUB] dropping %s from %q: %v", s.ID(), channel, err)
			h.UnsubscribeAll(s)
			s.Terminate()
			continue
		}
		delivered++
	}
	return delivered
}

// PublishText encodes text as a text frame and publishes it.
func (h *Hub[S]) PublishText(channel, text string) int {
	return h.Publish(channel, EncodeFrame(OpText, []byte(text)))
}
