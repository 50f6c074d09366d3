package websocket

import (
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
)

// fakePeer records what a hub or watchdog does to it.
type fakePeer struct {
	id string

	mu         sync.Mutex
	frames     [][]byte
	pings      int
	closes     []CloseCode
	terminated bool
	failSends  bool
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) SendFrame(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSends {
		return ErrSendQueueFull
	}
	p.frames = append(p.frames, frame)
	return nil
}

func (p *fakePeer) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSends {
		return ErrSendQueueFull
	}
	p.pings++
	return nil
}

func (p *fakePeer) Close(code CloseCode, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes = append(p.closes, code)
	return nil
}

func (p *fakePeer) Terminate() {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
}

func (p *fakePeer) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, raw := range p.frames {
		f, _, err := DecodeFrame(raw)
		if err != nil {
			panic(err)
		}
		out = append(out, string(f.Payload))
	}
	return out
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestHubSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub[*fakePeer](quietLogger())
	a, b := newFakePeer("a"), newFakePeer("b")

	hub.Subscribe("g1", a)
	hub.Subscribe("g1", b)
	hub.Subscribe("g2", a)

	if got := hub.Count("g1"); got != 2 {
		t.Errorf("Count(g1) = %d, want 2", got)
	}
	if got := hub.Channels(); len(got) != 2 || got[0] != "g1" || got[1] != "g2" {
		t.Errorf("Channels() = %v", got)
	}

	hub.Unsubscribe("g2", a)
	if got := hub.Channels(); len(got) != 1 {
		t.Errorf("empty channel not removed: %v", got)
	}

	hub.UnsubscribeAll(a)
	hub.UnsubscribeAll(b)
	if got := hub.Channels(); len(got) != 0 {
		t.Errorf("Channels() after UnsubscribeAll = %v", got)
	}

	// Unsubscribing unknown peers is harmless.
	hub.Unsubscribe("missing", a)
	hub.UnsubscribeAll(newFakePeer("c"))
}

func TestHubBroadcastIsolation(t *testing.T) {
	hub := NewHub[*fakePeer](quietLogger())
	inG1, inG2 := newFakePeer("one"), newFakePeer("two")
	hub.Subscribe("g1", inG1)
	hub.Subscribe("g2", inG2)

	if n := hub.PublishText("g1", "GAMEMSG.alice=hi"); n != 1 {
		t.Errorf("PublishText() delivered %d, want 1", n)
	}
	if got := inG1.texts(); len(got) != 1 || got[0] != "GAMEMSG.alice=hi" {
		t.Errorf("g1 subscriber got %v", got)
	}
	if got := inG2.texts(); len(got) != 0 {
		t.Errorf("g2 subscriber got %v", got)
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub[*fakePeer](quietLogger())
	good1, bad, good2 := newFakePeer("good1"), newFakePeer("bad"), newFakePeer("good2")
	bad.failSends = true
	for _, p := range []*fakePeer{good1, bad, good2} {
		hub.Subscribe("g", p)
	}
	hub.Subscribe("other", bad)

	if n := hub.PublishText("g", "x"); n != 2 {
		t.Errorf("delivered %d, want 2", n)
	}
	if len(good1.texts()) != 1 || len(good2.texts()) != 1 {
		t.Error("healthy subscribers missed the broadcast")
	}
	if !bad.terminated {
		t.Error("failing subscriber not terminated")
	}
	if hub.Count("g") != 2 || hub.Count("other") != 0 {
		t.Errorf("failing subscriber not dropped everywhere: g=%d other=%d", hub.Count("g"), hub.Count("other"))
	}
}

func TestHubConcurrentPublishAndChurn(t *testing.T) {
	hub := NewHub[*fakePeer](quietLogger())
	stable := newFakePeer("stable")
	hub.Subscribe("g", stable)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := newFakePeer(fmt.Sprintf("churn-%d", i))
			for j := 0; j < 100; j++ {
				hub.Subscribe("g", p)
				hub.Unsubscribe("g", p)
			}
		}(i)
	}
	for i := 0; i < 100; i++ {
		hub.PublishText("g", "tick")
	}
	wg.Wait()

	if got := len(stable.texts()); got != 100 {
		t.Errorf("stable subscriber received %d frames, want 100", got)
	}
}
