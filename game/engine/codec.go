package engine

import (
	"errors"
	"fmt"

	"github.com/wricardo/chacun-server/game/base32"
)

var ErrInvalidAction = errors.New("invalid action")

const (
	// noOccupant is the symbol value meaning "no occupant" in the occupy
	// and retake phases.
	noOccupant = 0b11111

	placeTileLength = 2
	rotationBits    = 2
	rotationMask    = 1<<rotationBits - 1

	occupantLength = 1
	kindShift      = 4
	localZoneMask  = 1<<kindShift - 1
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAction, fmt.Sprintf(format, args...))
}

// EncodePlaceTile encodes placing the tile to place at pos with rotation r.
func EncodePlaceTile(s *GameState, pos Pos, r Rotation) (string, error) {
	fringe := s.Board.InsertionPositions()
	for i, p := range fringe {
		if p == pos {
			return EncodePlacement(i, r), nil
		}
	}
	return "", invalid("%s is not an insertion position", pos)
}

// EncodePlacement encodes placing the tile at fringe index with rotation r.
// Clients that track the fringe themselves can use it directly.
func EncodePlacement(index int, r Rotation) string {
	return base32.Encode10(index<<rotationBits | int(r)&rotationMask)
}

// EncodeOccupant encodes an occupant placement. A nil occupant encodes the
// choice to place none.
func EncodeOccupant(occ *Occupant) string {
	if occ == nil {
		return base32.Encode5(noOccupant)
	}
	return base32.Encode5(int(occ.Kind)<<kindShift | LocalZone(occ.ZoneID))
}

// EncodeRetake encodes retaking occ. A nil occupant encodes retaking none.
func EncodeRetake(s *GameState, occ *Occupant) (string, error) {
	if occ == nil {
		return base32.Encode5(noOccupant), nil
	}
	for i, o := range s.Board.Occupants() {
		if o == *occ {
			return base32.Encode5(i), nil
		}
	}
	return "", invalid("no occupant in zone %d", occ.ZoneID)
}

func decodeLength(action string, length int) (int, error) {
	if len(action) != length {
		return 0, invalid("%q must be %d symbols", action, length)
	}
	v, err := base32.Decode(action)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	return v, nil
}

// DecodeAndApply decodes action against s's expected next action and
// applies it on behalf of the current player.
func DecodeAndApply(s *GameState, action string) (*GameState, error) {
	if !base32.IsValid(action) {
		return nil, invalid("%q is not base32", action)
	}
	current, ok := s.CurrentPlayer()
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAction, ErrWrongPhase)
	}

	switch s.NextAction {
	case PlaceTile:
		v, err := decodeLength(action, placeTileLength)
		if err != nil {
			return nil, err
		}
		fringe := s.Board.InsertionPositions()
		idx := v >> rotationBits
		if idx >= len(fringe) {
			return nil, invalid("fringe index %d out of range (%d positions)", idx, len(fringe))
		}
		return s.WithPlacedTile(PlacedTile{
			Tile:     *s.TileToPlace,
			Placer:   current,
			Rotation: Rotation(v & rotationMask),
			Pos:      fringe[idx],
		})

	case OccupyTile:
		v, err := decodeLength(action, occupantLength)
		if err != nil {
			return nil, err
		}
		if v == noOccupant {
			return s.WithNewOccupant(nil)
		}
		kind, local := OccupantKind(v>>kindShift), v&localZoneMask
		for _, occ := range s.LastTilePotentialOccupants() {
			if occ.Kind == kind && LocalZone(occ.ZoneID) == local {
				return s.WithNewOccupant(&occ)
			}
		}
		return nil, invalid("no %s allowed in local zone %d", kind, local)

	case RetakePawn:
		v, err := decodeLength(action, occupantLength)
		if err != nil {
			return nil, err
		}
		if v == noOccupant {
			return s.WithOccupantRemoved(nil)
		}
		occupants := s.Board.Occupants()
		if v >= len(occupants) {
			return nil, invalid("occupant index %d out of range (%d occupants)", v, len(occupants))
		}
		return s.WithOccupantRemoved(&occupants[v])
	}

	return nil, fmt.Errorf("%w: %w", ErrInvalidAction, ErrWrongPhase)
}
