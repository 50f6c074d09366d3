package service

import (
	"context"
	"io"
	"log"
	"net"
	"slices"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/wricardo/chacun-server/game/engine"
	"github.com/wricardo/chacun-server/game/session"
	"github.com/wricardo/chacun-server/transport/websocket"
)

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// A close that queues behind a disband must not act on the context the
// disband cleared, or it would remove a player who rejoined under the same
// name.
func TestCloseAfterDisbandKeepsRejoinedPlayer(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	m := engine.Meadow
	rules, err := engine.NewRules(&engine.DeckConfig{
		Name:  "tiny",
		Start: engine.TileSpec{Sides: [4]engine.SideKind{m, m, m, m}},
		Tiles: []engine.TileSpec{{Sides: [4]engine.SideKind{m, m, m, m}, Count: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	sessions := session.NewManager(rules, session.WithLogger(quiet))
	svc := NewGameService(sessions, websocket.Config{Logger: quiet})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go svc.Server().Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		svc.Server().Shutdown(sctx)
		sessions.Close()
	})

	var clients []*gws.Conn
	for _, user := range []string{"alice", "bob"} {
		ws, resp, err := gws.DefaultDialer.Dial("ws://"+ln.Addr().String(), nil)
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		resp.Body.Close()
		t.Cleanup(func() { ws.Close() })
		if err := ws.WriteMessage(gws.TextMessage, []byte("GAMEJOIN.g,"+user)); err != nil {
			t.Fatal(err)
		}
		clients = append(clients, ws)
	}
	waitUntil(t, "both players to join", func() bool { return svc.hub.Count("g") == 2 })

	svc.mu.Lock()
	clients[0].Close()
	// Let the server notice the close and block in onClose.
	time.Sleep(100 * time.Millisecond)

	// A disband applied while the close waits: every member loses its
	// context and the name is free again.
	for _, player := range []string{"alice", "bob"} {
		sessions.Disconnect(&session.Player{Game: "g", Username: player})
	}
	for _, member := range svc.hub.Members("g") {
		member.SetContext(nil)
		svc.hub.Unsubscribe("g", member)
	}
	if res := sessions.Handle(nil, "GAMEJOIN.g,alice"); res.Join == nil {
		svc.mu.Unlock()
		t.Fatalf("rejoin denied: %q", res.Reply)
	}
	svc.mu.Unlock()

	waitUntil(t, "the closed connection to be released", func() bool { return svc.Server().ConnCount() == 1 })

	lobby, ok := sessions.Lobby("g")
	if !ok || !slices.Contains(lobby.Players, "alice") {
		t.Errorf("Lobby(g) = %+v, %v; the stale close removed the rejoined alice", lobby, ok)
	}
}
