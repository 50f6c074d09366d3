package history

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRecordNotFound = errors.New("game record not found")
	ErrInvalidRecord  = errors.New("invalid game record")
)

// Outcomes a record can end with.
const (
	OutcomeWon       = "PLAYER_HAS_WON"
	OutcomeAbandoned = "PLAYER_LEFT_MIDGAME"
)

// Player is one seat in a recorded game.
type Player struct {
	Username string `json:"username"`
	Color    string `json:"color"`
}

// Record is the archived log of one game, enough to replay it.
type Record struct {
	ID        string    `json:"id"`
	Game      string    `json:"game"`
	Deck      string    `json:"deck"`
	Players   []Player  `json:"players"`
	Actions   []string  `json:"actions"`
	Outcome   string    `json:"outcome"`
	Winners   []string  `json:"winners,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

func (r *Record) validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if !validID(r.ID) || r.Game == "" {
		return fmt.Errorf("%w: a plain id and a game name are required", ErrInvalidRecord)
	}
	return nil
}

// Store archives finished games.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	// List returns up to limit record ids, most recently ended first. A
	// non-positive limit returns all of them.
	List(ctx context.Context, limit int) ([]string, error)
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Save(context.Context, *Record) error { return nil }

func (Nop) Load(_ context.Context, id string) (*Record, error) {
	return nil, ErrRecordNotFound
}

func (Nop) List(context.Context, int) ([]string, error) { return nil, nil }

func (Nop) Close() error { return nil }
