package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

var (
	ErrNotYourTurn    = errors.New("not your turn")
	ErrInvalidPlayers = errors.New("invalid player list")
)

// Engine is the contract the session layer plays games through. Apply must
// not modify the state it is given.
type Engine interface {
	NewGame(name string, players []PlayerColor) (*GameState, error)
	Apply(state *GameState, action string, player PlayerColor) (*GameState, Outcome, error)
	IsFinished(state *GameState) bool
}

// Outcome describes an accepted action.
type Outcome struct {
	Action   string     `json:"action"`
	Next     NextAction `json:"next"`
	Finished bool       `json:"finished"`
}

// Rules is the reference Engine built from one deck.
type Rules struct {
	deck  *DeckConfig
	tiles []Tile
}

var _ Engine = (*Rules)(nil)

// NewRules validates deck and returns rules that deal from it.
func NewRules(deck *DeckConfig) (*Rules, error) {
	if err := ValidateDeck(deck); err != nil {
		return nil, err
	}
	return &Rules{deck: deck, tiles: BuildTiles(deck)}, nil
}

// NewDefaultRules returns rules for the built-in deck.
func NewDefaultRules() *Rules {
	r, err := NewRules(DefaultDeck())
	if err != nil {
		panic(fmt.Sprintf("built-in deck is invalid: %v", err))
	}
	return r
}

// Deck returns the deck the rules deal from.
func (r *Rules) Deck() *DeckConfig { return r.deck }

// NewGame deals a fresh game. The deck order depends only on name, so the
// same name and players always produce the same game. The starting tile is
// already on the board.
func (r *Rules) NewGame(name string, players []PlayerColor) (*GameState, error) {
	if len(players) < MinPlayers || len(players) > MaxPlayers {
		return nil, fmt.Errorf("%w: %d players, need %d to %d", ErrInvalidPlayers, len(players), MinPlayers, MaxPlayers)
	}
	seen := make(map[PlayerColor]bool)
	for _, p := range players {
		if seen[p] || !isColor(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPlayers, p)
		}
		seen[p] = true
	}

	deck := append([]Tile(nil), r.tiles...)
	seed := seedFor(name)
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	rest := deck[1:]
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	initial := &GameState{
		Players:    append([]PlayerColor(nil), players...),
		Deck:       deck,
		NextAction: StartGame,
	}
	return initial.WithStartingTilePlaced()
}

// Apply plays action for player.
func (r *Rules) Apply(state *GameState, action string, player PlayerColor) (*GameState, Outcome, error) {
	if r.IsFinished(state) {
		return nil, Outcome{}, ErrGameFinished
	}
	current, ok := state.CurrentPlayer()
	if !ok {
		return nil, Outcome{}, fmt.Errorf("%w: %w", ErrInvalidAction, ErrWrongPhase)
	}
	if current != player {
		return nil, Outcome{}, fmt.Errorf("%w: %s to play, got %s", ErrNotYourTurn, current, player)
	}
	next, err := DecodeAndApply(state, action)
	if err != nil {
		return nil, Outcome{}, err
	}
	return next, Outcome{Action: action, Next: next.NextAction, Finished: r.IsFinished(next)}, nil
}

// IsFinished reports whether the game has ended.
func (r *Rules) IsFinished(state *GameState) bool {
	return state.NextAction == EndGame
}
