package session

import (
	"context"
	"errors"
	"log"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wricardo/chacun-server/game/engine"
	"github.com/wricardo/chacun-server/game/history"
)

// Time allowed for one history record write.
const recordTimeout = 10 * time.Second

// Player is the per-connection context: who the connection is and which
// game it joined.
type Player struct {
	Game     string `json:"game"`
	Username string `json:"username"`
}

// Lobby is a game that has players but has not started. Players are kept in
// join order; the first one founded the lobby.
type Lobby struct {
	Name    string   `json:"name"`
	Players []string `json:"players"`
}

// OngoingGame is a running game.
type OngoingGame struct {
	Name      string                        `json:"name"`
	Order     []string                      `json:"order"`
	Players   map[string]engine.PlayerColor `json:"players"`
	State     *engine.GameState             `json:"state"`
	Actions   []string                      `json:"actions"`
	StartedAt time.Time                     `json:"started_at"`
}

// Result describes what the caller must do after a message was handled.
// Effects apply in field order: Join, Reply, Broadcasts, then Leave and
// Disband.
type Result struct {
	// Channel is the game the result applies to.
	Channel string
	// Join is the sender's new context. The sender must be subscribed to
	// Channel before the broadcasts go out.
	Join *Player
	// Reply goes to the sender only.
	Reply string
	// Broadcasts go to every subscriber of Channel, in order.
	Broadcasts []string
	// Leave unsubscribes the sender and clears its context.
	Leave bool
	// Disband unsubscribes every member of Channel and clears their contexts.
	Disband bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder archives every game that leaves the ONGOING state.
func WithRecorder(store history.Store) Option {
	return func(m *Manager) { m.recorder = store }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithDeckName sets the deck name written to history records. Rules that
// expose their deck are named automatically.
func WithDeckName(name string) Option {
	return func(m *Manager) { m.deckName = name }
}

// Manager runs the lobby and game state machine for every game name. A name
// is at most one of: absent, a Lobby, an OngoingGame.
type Manager struct {
	rules    engine.Engine
	recorder history.Store
	logger   *log.Logger
	now      func() time.Time
	deckName string

	mu      sync.Mutex
	lobbies map[string]*Lobby
	games   map[string]*OngoingGame

	pending sync.WaitGroup
}

// NewManager creates a manager that plays games with rules.
func NewManager(rules engine.Engine, opts ...Option) *Manager {
	m := &Manager{
		rules:    rules,
		recorder: history.Nop{},
		logger:   log.Default(),
		now:      time.Now,
		lobbies:  make(map[string]*Lobby),
		games:    make(map[string]*OngoingGame),
	}
	if d, ok := rules.(interface{ Deck() *engine.DeckConfig }); ok {
		m.deckName = d.Deck().Name
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle parses raw and routes it. ctx is the sender's current context,
// nil until it joins a game.
func (m *Manager) Handle(ctx *Player, raw string) Result {
	msg := Parse(raw)
	switch msg.Command {
	case CmdJoin:
		args := msg.Args()
		if len(args) != 2 {
			if ctx != nil {
				return deny(CmdJoinDeny, ReasonAlreadyInGame)
			}
			return deny(CmdJoinDeny, ReasonInvalidData)
		}
		return m.Join(ctx, args[0], args[1])
	case CmdAction:
		return m.Act(ctx, msg.Data)
	case CmdLeave:
		return m.Leave(ctx)
	case CmdMsg:
		return m.Chat(ctx, msg.Data)
	}
	// Server-only commands and unknown input are dropped.
	return Result{}
}

func deny(cmd Command, reason string) Result {
	return Result{Reply: encode(cmd, reason)}
}

// Join adds user to the lobby named game, creating it if needed.
func (m *Manager) Join(ctx *Player, game, user string) Result {
	if ctx != nil {
		return deny(CmdJoinDeny, ReasonAlreadyInGame)
	}
	if !validName(game) || !validName(user) {
		return deny(CmdJoinDeny, ReasonInvalidData)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.games[game]; ok {
		return deny(CmdJoinDeny, ReasonGameAlreadyStarted)
	}
	lobby, ok := m.lobbies[game]
	switch {
	case !ok:
		lobby = &Lobby{Name: game}
		m.lobbies[game] = lobby
	case slices.Contains(lobby.Players, user):
		return deny(CmdJoinDeny, ReasonUsernameTaken)
	case len(lobby.Players) >= engine.MaxPlayers:
		return deny(CmdJoinDeny, ReasonGameFull)
	}
	lobby.Players = append(lobby.Players, user)
	m.logger.Printf("[SESSION] %s joined %s (%d players)", user, game, len(lobby.Players))

	return Result{
		Channel:    game,
		Join:       &Player{Game: game, Username: user},
		Broadcasts: []string{encode(CmdJoinAccept, lobby.Players...)},
	}
}

// Act applies payload for the sender, starting the game first if the
// sender founded a lobby of at least two players.
func (m *Manager) Act(ctx *Player, payload string) Result {
	m.mu.Lock()
	res, rec := m.act(ctx, payload)
	m.mu.Unlock()
	m.archive(rec)
	return res
}

func (m *Manager) act(ctx *Player, payload string) (Result, *history.Record) {
	if ctx == nil {
		return deny(CmdActionDeny, ReasonGameNotStarted), nil
	}
	game, ok := m.games[ctx.Game]
	if !ok {
		var err error
		if game, err = m.promote(ctx); err != nil {
			return deny(CmdActionDeny, ReasonGameNotStarted), nil
		}
	}
	color, member := game.Players[ctx.Username]
	if !member {
		return deny(CmdActionDeny, ReasonNotInGame), nil
	}
	if current, ok := game.State.CurrentPlayer(); !ok || current != color {
		return deny(CmdActionDeny, ReasonNotYourTurn), nil
	}

	next, outcome, err := m.rules.Apply(game.State, payload, color)
	if err != nil {
		if errors.Is(err, engine.ErrNotYourTurn) {
			return deny(CmdActionDeny, ReasonNotYourTurn), nil
		}
		m.logger.Printf("[SESSION] %s rejected action %q from %s: %v", game.Name, payload, ctx.Username, err)
		return deny(CmdActionDeny, ReasonInvalidAction), nil
	}
	game.State = next
	game.Actions = append(game.Actions, payload)

	res := Result{
		Channel:    game.Name,
		Broadcasts: []string{encode(CmdActionAccept, payload)},
	}
	if !outcome.Finished {
		return res, nil
	}

	delete(m.games, game.Name)
	res.Broadcasts = append(res.Broadcasts, encode(CmdEnd, EndPlayerHasWon))
	res.Disband = true
	rec := m.record(game, history.OutcomeWon)
	for _, c := range engine.Leaders(game.State) {
		rec.Winners = append(rec.Winners, game.username(c))
	}
	m.logger.Printf("[SESSION] %s finished after %d actions, won by %s", game.Name, len(game.Actions), strings.Join(rec.Winners, ","))
	return res, rec
}

// promote turns the sender's lobby into a running game. Only the founder of
// a lobby with at least two players may do so.
func (m *Manager) promote(ctx *Player) (*OngoingGame, error) {
	lobby, ok := m.lobbies[ctx.Game]
	if !ok || len(lobby.Players) < engine.MinPlayers || lobby.Players[0] != ctx.Username {
		return nil, errNotStartable
	}
	order := slices.Clone(lobby.Players)
	colors := engine.AllColors[:len(order)]
	state, err := m.rules.NewGame(lobby.Name, colors)
	if err != nil {
		m.logger.Printf("[SESSION] could not start %s: %v", lobby.Name, err)
		return nil, err
	}

	game := &OngoingGame{
		Name:      lobby.Name,
		Order:     order,
		Players:   make(map[string]engine.PlayerColor, len(order)),
		State:     state,
		StartedAt: m.now(),
	}
	for i, user := range order {
		game.Players[user] = colors[i]
	}
	delete(m.lobbies, lobby.Name)
	m.games[game.Name] = game
	m.logger.Printf("[SESSION] %s started with %s", game.Name, strings.Join(order, ","))
	return game, nil
}

var errNotStartable = errors.New("lobby cannot be started by this player")

// Leave removes the sender from its game. Leaving a running game dissolves
// it into a lobby of the remaining players.
func (m *Manager) Leave(ctx *Player) Result {
	m.mu.Lock()
	res, rec := m.leave(ctx)
	m.mu.Unlock()
	m.archive(rec)
	return res
}

// Disconnect is Leave for a connection that went away.
func (m *Manager) Disconnect(ctx *Player) Result {
	return m.Leave(ctx)
}

func (m *Manager) leave(ctx *Player) (Result, *history.Record) {
	if ctx == nil {
		return Result{}, nil
	}
	res := Result{Channel: ctx.Game, Leave: true}

	if lobby, ok := m.lobbies[ctx.Game]; ok {
		i := slices.Index(lobby.Players, ctx.Username)
		if i < 0 {
			return res, nil
		}
		lobby.Players = slices.Delete(lobby.Players, i, i+1)
		if len(lobby.Players) == 0 {
			delete(m.lobbies, lobby.Name)
		}
		res.Broadcasts = []string{encode(CmdLeave, lobby.Players...)}
		m.logger.Printf("[SESSION] %s left lobby %s", ctx.Username, ctx.Game)
		return res, nil
	}

	game, ok := m.games[ctx.Game]
	if !ok {
		return res, nil
	}
	if _, member := game.Players[ctx.Username]; !member {
		return res, nil
	}
	remaining := slices.DeleteFunc(slices.Clone(game.Order), func(u string) bool { return u == ctx.Username })
	delete(m.games, game.Name)
	if len(remaining) > 0 {
		m.lobbies[game.Name] = &Lobby{Name: game.Name, Players: remaining}
	}
	res.Broadcasts = []string{
		encode(CmdEnd, EndPlayerLeftMidgame),
		encode(CmdLeave, remaining...),
	}
	m.logger.Printf("[SESSION] %s left %s mid-game; back to lobby with %s", ctx.Username, game.Name, strings.Join(remaining, ","))
	return res, m.record(game, history.OutcomeAbandoned)
}

// Chat relays text to the sender's game.
func (m *Manager) Chat(ctx *Player, text string) Result {
	if ctx == nil {
		return deny(CmdMsgDeny, ReasonNotInGame)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isMember(ctx) {
		return deny(CmdMsgDeny, ReasonGameHasEnded)
	}
	return Result{
		Channel:    ctx.Game,
		Broadcasts: []string{encode(CmdMsg, ctx.Username+"="+text)},
	}
}

func (m *Manager) isMember(ctx *Player) bool {
	if lobby, ok := m.lobbies[ctx.Game]; ok {
		return slices.Contains(lobby.Players, ctx.Username)
	}
	if game, ok := m.games[ctx.Game]; ok {
		_, member := game.Players[ctx.Username]
		return member
	}
	return false
}

func (g *OngoingGame) username(c engine.PlayerColor) string {
	for user, color := range g.Players {
		if color == c {
			return user
		}
	}
	return string(c)
}

func (m *Manager) record(g *OngoingGame, outcome string) *history.Record {
	rec := &history.Record{
		ID:        uuid.NewString(),
		Game:      g.Name,
		Deck:      m.deckName,
		Actions:   slices.Clone(g.Actions),
		Outcome:   outcome,
		StartedAt: g.StartedAt,
		EndedAt:   m.now(),
	}
	for _, user := range g.Order {
		rec.Players = append(rec.Players, history.Player{Username: user, Color: string(g.Players[user])})
	}
	return rec
}

// archive saves rec in the background. Close waits for pending saves.
func (m *Manager) archive(rec *history.Record) {
	if rec == nil {
		return
	}
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := m.recorder.Save(ctx, rec); err != nil {
			m.logger.Printf("[HISTORY] failed to save %s (%s): %v", rec.ID, rec.Game, err)
			return
		}
		m.logger.Printf("[HISTORY] saved %s (%s, %s)", rec.ID, rec.Game, rec.Outcome)
	}()
}

// Flush waits for pending history writes.
func (m *Manager) Flush() {
	m.pending.Wait()
}

// Close waits for pending history writes and closes the recorder.
func (m *Manager) Close() error {
	m.Flush()
	return m.recorder.Close()
}

// Lobby returns a copy of the lobby named name.
func (m *Manager) Lobby(name string) (Lobby, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[name]
	if !ok {
		return Lobby{}, false
	}
	return Lobby{Name: l.Name, Players: slices.Clone(l.Players)}, true
}

// Game returns a copy of the running game named name. The state is shared;
// game states are never modified in place.
func (m *Manager) Game(name string) (OngoingGame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[name]
	if !ok {
		return OngoingGame{}, false
	}
	cp := *g
	cp.Order = slices.Clone(g.Order)
	cp.Actions = slices.Clone(g.Actions)
	cp.Players = make(map[string]engine.PlayerColor, len(g.Players))
	for k, v := range g.Players {
		cp.Players[k] = v
	}
	return cp, true
}

// Names lists every lobby and running game, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.lobbies)+len(m.games))
	for name := range m.lobbies {
		names = append(names, name)
	}
	for name := range m.games {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
