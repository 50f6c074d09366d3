package engine

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrWrongPhase   = errors.New("action not allowed in this phase")
	ErrGameFinished = errors.New("game is finished")
)

// GameState is the full, immutable state of one game. Every transition
// returns a new value and leaves the receiver untouched.
type GameState struct {
	Players     []PlayerColor `json:"players"`
	Current     int           `json:"current"`
	Deck        []Tile        `json:"deck"`
	TileToPlace *Tile         `json:"tile_to_place,omitempty"`
	Board       Board         `json:"board"`
	NextAction  NextAction    `json:"next_action"`
}

func (s *GameState) clone() *GameState {
	c := *s
	c.Players = slices.Clone(s.Players)
	c.Deck = slices.Clone(s.Deck)
	c.Board = Board{Tiles: slices.Clone(s.Board.Tiles)}
	if s.TileToPlace != nil {
		t := *s.TileToPlace
		c.TileToPlace = &t
	}
	return &c
}

// CurrentPlayer returns the player expected to act. There is none before
// the starting tile is placed or once the game has ended.
func (s *GameState) CurrentPlayer() (PlayerColor, bool) {
	if s.NextAction == StartGame || s.NextAction == EndGame || len(s.Players) == 0 {
		return "", false
	}
	return s.Players[s.Current], true
}

// FreeOccupants returns how many occupants of kind color still has in hand.
func (s *GameState) FreeOccupants(color PlayerColor, kind OccupantKind) int {
	total := PawnCount
	if kind == Hut {
		total = HutCount
	}
	return total - s.Board.OccupantCount(color, kind)
}

// LastTilePotentialOccupants lists the occupants the current player may put
// on the tile just placed, ordered by kind then zone.
func (s *GameState) LastTilePotentialOccupants() []Occupant {
	pt, ok := s.Board.LastPlaced()
	if !ok || pt.Placer == "" || pt.Occupant != nil {
		return nil
	}
	var out []Occupant
	if s.FreeOccupants(pt.Placer, Pawn) > 0 {
		for local := range 4 {
			out = append(out, Occupant{Kind: Pawn, ZoneID: ZoneID(pt.Tile.ID, local)})
		}
	}
	if s.FreeOccupants(pt.Placer, Hut) > 0 {
		for local, side := range pt.Tile.Sides {
			if side == River {
				out = append(out, Occupant{Kind: Hut, ZoneID: ZoneID(pt.Tile.ID, local)})
			}
		}
	}
	return out
}

func (s *GameState) requirePhase(want NextAction) error {
	if s.NextAction != want {
		return fmt.Errorf("%w: expected %s, game is at %s", ErrWrongPhase, want, s.NextAction)
	}
	return nil
}

// WithStartingTilePlaced puts the first deck tile at the origin and draws
// the first tile to place.
func (s *GameState) WithStartingTilePlaced() (*GameState, error) {
	if err := s.requirePhase(StartGame); err != nil {
		return nil, err
	}
	if len(s.Deck) == 0 {
		return nil, fmt.Errorf("%w: empty deck", ErrInvalidDeck)
	}
	next := s.clone()
	start := next.Deck[0]
	next.Deck = next.Deck[1:]
	next.Board = next.Board.withTile(PlacedTile{Tile: start, Pos: Pos{0, 0}})
	next.drawTile()
	return next, nil
}

// WithPlacedTile places the tile to place as pt describes.
func (s *GameState) WithPlacedTile(pt PlacedTile) (*GameState, error) {
	if err := s.requirePhase(PlaceTile); err != nil {
		return nil, err
	}
	current, _ := s.CurrentPlayer()
	if s.TileToPlace == nil || pt.Tile != *s.TileToPlace || pt.Placer != current {
		return nil, fmt.Errorf("%w: tile or placer mismatch", ErrInvalidAction)
	}
	if !s.Board.CanAddTile(pt) {
		return nil, fmt.Errorf("%w: tile does not fit at %s", ErrInvalidAction, pt.Pos)
	}
	next := s.clone()
	next.Board = next.Board.withTile(pt)
	next.TileToPlace = nil
	if pt.Tile.Shaman && next.Board.OccupantCount(current, Pawn) > 0 {
		next.NextAction = RetakePawn
		return next, nil
	}
	next.enterOccupation()
	return next, nil
}

// WithOccupantRemoved returns a pawn to its owner. A nil occupant skips.
func (s *GameState) WithOccupantRemoved(occ *Occupant) (*GameState, error) {
	if err := s.requirePhase(RetakePawn); err != nil {
		return nil, err
	}
	next := s.clone()
	if occ != nil {
		current, _ := s.CurrentPlayer()
		pt, ok := s.Board.TileWithID(TileOf(occ.ZoneID))
		switch {
		case !ok || pt.Occupant == nil || *pt.Occupant != *occ:
			return nil, fmt.Errorf("%w: no occupant in zone %d", ErrInvalidAction, occ.ZoneID)
		case occ.Kind != Pawn:
			return nil, fmt.Errorf("%w: only pawns can be retaken", ErrInvalidAction)
		case pt.Placer != current:
			return nil, fmt.Errorf("%w: pawn in zone %d belongs to %s", ErrInvalidAction, occ.ZoneID, pt.Placer)
		}
		next.Board = next.Board.withoutOccupant(*occ)
	}
	next.enterOccupation()
	return next, nil
}

// WithNewOccupant puts occ on the last placed tile and ends the turn. A nil
// occupant skips.
func (s *GameState) WithNewOccupant(occ *Occupant) (*GameState, error) {
	if err := s.requirePhase(OccupyTile); err != nil {
		return nil, err
	}
	next := s.clone()
	if occ != nil {
		if !slices.Contains(s.LastTilePotentialOccupants(), *occ) {
			return nil, fmt.Errorf("%w: %s not allowed in zone %d", ErrInvalidAction, occ.Kind, occ.ZoneID)
		}
		next.Board = next.Board.withOccupant(*occ)
	}
	next.finishTurn()
	return next, nil
}

func (s *GameState) enterOccupation() {
	if len(s.LastTilePotentialOccupants()) == 0 {
		s.finishTurn()
		return
	}
	s.NextAction = OccupyTile
}

func (s *GameState) finishTurn() {
	s.Current = (s.Current + 1) % len(s.Players)
	s.drawTile()
}

// drawTile takes the next placeable tile from the deck, discarding the
// ones that fit nowhere. An exhausted deck ends the game.
func (s *GameState) drawTile() {
	for len(s.Deck) > 0 {
		t := s.Deck[0]
		s.Deck = s.Deck[1:]
		if s.Board.CouldPlaceTile(t) {
			s.TileToPlace = &t
			s.NextAction = PlaceTile
			return
		}
	}
	s.TileToPlace = nil
	s.NextAction = EndGame
}
