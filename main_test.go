package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/chacun-server/game/config"
	"github.com/wricardo/chacun-server/game/engine"
	"github.com/wricardo/chacun-server/game/history"
	"github.com/wricardo/chacun-server/game/session"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName != "ChaCuN Game Server" {
		t.Errorf("AppName = %q", AppName)
	}
}

func TestAppCommands(t *testing.T) {
	app := newApp()
	for _, name := range []string{"mcp", "history", "decks"} {
		if app.Command(name) == nil {
			t.Errorf("missing subcommand %q", name)
		}
	}
	hist := app.Command("history")
	for _, name := range []string{"list", "show"} {
		if hist.Command(name) == nil {
			t.Errorf("missing history subcommand %q", name)
		}
	}

	names := map[string]bool{}
	for _, f := range app.Flags {
		for _, n := range f.Names() {
			if names[n] {
				t.Errorf("flag %q defined twice", n)
			}
			names[n] = true
		}
	}
	for _, n := range []string{"addr", "ping-interval", "max-payload", "deck", "deck-dir", "history", "ngrok", "debug"} {
		if !names[n] {
			t.Errorf("missing flag %q", n)
		}
	}
}

func TestNewServer(t *testing.T) {
	if _, err := config.NewManager("configs"); err != nil {
		t.Skipf("configs directory not available: %v", err)
	}

	tests := []struct {
		name     string
		args     []string
		wantDeck string
		wantErr  bool
	}{
		{"defaults", nil, "standard", false},
		{"small deck with file history", []string{"--deck", "small", "--history", "file", "--history-dir", t.TempDir()}, "small", false},
		{"missing deck", []string{"--deck", "nope"}, "", true},
		{"bad deck dir", []string{"--deck-dir", "/non/existent/path"}, "", true},
		{"unknown history backend", []string{"--history", "tape"}, "", true},
		{"redis without address", []string{"--history", "redis"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *app
			var gotErr error
			cmd := newApp()
			cmd.Action = func(ctx context.Context, cmd *cli.Command) error {
				got, gotErr = newServer(ctx, cmd, log.New(io.Discard, "", 0))
				return nil
			}
			if err := cmd.Run(context.Background(), append([]string{"chacun-server"}, tt.args...)); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if (gotErr != nil) != tt.wantErr {
				t.Fatalf("newServer() error = %v, wantErr %v", gotErr, tt.wantErr)
			}
			if gotErr != nil {
				return
			}
			defer got.sessions.Close()
			if got.deck != tt.wantDeck {
				t.Errorf("deck = %q, want %q", got.deck, tt.wantDeck)
			}
			if got.service.Server() == nil {
				t.Error("server not created")
			}
		})
	}
}

func TestLoadRules(t *testing.T) {
	decks, err := config.NewManager("configs")
	if err != nil {
		t.Skipf("configs directory not available: %v", err)
	}

	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{"default deck", "", "standard", false},
		{"named deck", "small", "small", false},
		{"missing deck", "nope", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := loadRules(decks, tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadRules(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err == nil && rules.Deck().Name != tt.want {
				t.Errorf("deck = %q, want %q", rules.Deck().Name, tt.want)
			}
		})
	}
}

func TestRulesForRecord(t *testing.T) {
	rules, err := rulesForRecord(nil, &history.Record{Deck: "standard"})
	if err != nil {
		t.Fatalf("built-in deck: %v", err)
	}
	if rules.Deck().Name != "standard" {
		t.Errorf("deck = %q", rules.Deck().Name)
	}
	if _, err := rulesForRecord(nil, &history.Record{Deck: "custom"}); !errors.Is(err, config.ErrDeckNotFound) {
		t.Errorf("unknown deck error = %v, want ErrDeckNotFound", err)
	}
}

// playGame plays a two player game on sessions until it finishes.
func playGame(t *testing.T, rules *engine.Rules, sessions *session.Manager, game string) {
	t.Helper()
	alice := sessions.Handle(nil, "GAMEJOIN."+game+",alice").Join
	bob := sessions.Handle(nil, "GAMEJOIN."+game+",bob").Join
	if alice == nil || bob == nil {
		t.Fatal("join denied")
	}
	players := map[string]*session.Player{"alice": alice, "bob": bob}

	// The founder's first action starts the game, so it is computed on a
	// fresh deal of the same name.
	state, err := rules.NewGame(game, []engine.PlayerColor{engine.Red, engine.Blue})
	if err != nil {
		t.Fatal(err)
	}
	user := "alice"
	for i := 0; i < 500; i++ {
		action := legalAction(t, state)
		if res := sessions.Handle(players[user], "GAMEACTION."+action); res.Reply != "" {
			t.Fatalf("%s %q: %s", user, action, res.Reply)
		}
		g, ok := sessions.Game(game)
		if !ok {
			return
		}
		state = g.State
		current, _ := state.CurrentPlayer()
		for name, color := range g.Players {
			if color == current {
				user = name
			}
		}
	}
	t.Fatal("game did not finish")
}

func legalAction(t *testing.T, s *engine.GameState) string {
	t.Helper()
	switch s.NextAction {
	case engine.PlaceTile:
		placements := engine.LegalPlacements(s)
		if len(placements) == 0 {
			t.Fatal("no legal placement")
		}
		return placements[0].Action
	case engine.OccupyTile:
		return engine.EncodeOccupant(nil)
	case engine.RetakePawn:
		action, _ := engine.EncodeRetake(s, nil)
		return action
	}
	t.Fatalf("no action in phase %s", s.NextAction)
	return ""
}

func TestHistoryCommands(t *testing.T) {
	decks, err := config.NewManager("configs")
	if err != nil {
		t.Skipf("configs directory not available: %v", err)
	}
	rules, err := loadRules(decks, "small")
	if err != nil {
		t.Fatal(err)
	}
	store, err := history.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sessions := session.NewManager(rules,
		session.WithRecorder(store),
		session.WithLogger(log.New(io.Discard, "", 0)),
	)
	playGame(t, rules, sessions, "evening")
	sessions.Flush()

	ctx := context.Background()
	var out bytes.Buffer
	if err := listHistory(ctx, &out, store, 10); err != nil {
		t.Fatalf("listHistory() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("list output:\n%s", out.String())
	}
	if !strings.Contains(lines[1], "evening") || !strings.Contains(lines[1], "alice,bob") || !strings.Contains(lines[1], history.OutcomeWon) {
		t.Errorf("list row = %q", lines[1])
	}

	ids, err := store.List(ctx, 1)
	if err != nil || len(ids) != 1 {
		t.Fatalf("List() = %v, %v", ids, err)
	}
	rec, err := store.Load(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := showRecord(&out, decks, rec); err != nil {
		t.Fatalf("showRecord() error = %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "Replay:   ok, next action END_GAME") {
		t.Errorf("show output:\n%s", out.String())
	}

	rec.Actions = rec.Actions[:len(rec.Actions)-1]
	if err := showRecord(io.Discard, decks, rec); err == nil {
		t.Error("showRecord() accepted a truncated won game")
	}
}

func TestListHistoryEmpty(t *testing.T) {
	store, err := history.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := listHistory(context.Background(), &out, store, 0); err != nil {
		t.Fatal(err)
	}
	if out.String() != "No archived games.\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestListDecks(t *testing.T) {
	decks, err := config.NewManager("configs")
	if err != nil {
		t.Skipf("configs directory not available: %v", err)
	}
	var out bytes.Buffer
	if err := listDecks(&out, decks); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"standard", "small"} {
		if !strings.Contains(out.String(), id) {
			t.Errorf("deck %q missing from:\n%s", id, out.String())
		}
	}
}
