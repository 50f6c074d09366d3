package engine

import (
	"hash/fnv"
	"sort"
)

func seedFor(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

func isColor(c PlayerColor) bool {
	for _, known := range AllColors {
		if c == known {
			return true
		}
	}
	return false
}

// Placement is one legal way to place the tile to place.
type Placement struct {
	Pos      Pos      `json:"pos"`
	Rotation Rotation `json:"rotation"`
	Action   string   `json:"action"`
}

// LegalPlacements lists every legal placement of the tile to place, in
// fringe order then rotation order, with its encoded action.
func LegalPlacements(s *GameState) []Placement {
	if s.NextAction != PlaceTile || s.TileToPlace == nil {
		return nil
	}
	current, _ := s.CurrentPlayer()
	var out []Placement
	for _, p := range s.Board.InsertionPositions() {
		for r := Rotation(0); r < 4; r++ {
			pt := PlacedTile{Tile: *s.TileToPlace, Placer: current, Rotation: r, Pos: p}
			if !s.Board.CanAddTile(pt) {
				continue
			}
			action, err := EncodePlaceTile(s, p, r)
			if err != nil {
				continue
			}
			out = append(out, Placement{Pos: p, Rotation: r, Action: action})
		}
	}
	return out
}

// Scores counts, for each player, the tiles they placed and the occupants
// they have on the board. Player order is preserved.
func Scores(s *GameState) []PlayerScore {
	out := make([]PlayerScore, 0, len(s.Players))
	for _, c := range s.Players {
		ps := PlayerScore{Color: c}
		for _, pt := range s.Board.Tiles {
			if pt.Placer == c {
				ps.Tiles++
				if pt.Occupant != nil {
					ps.Occupants++
				}
			}
		}
		out = append(out, ps)
	}
	return out
}

// PlayerScore summarizes one player's presence on the board.
type PlayerScore struct {
	Color     PlayerColor `json:"color"`
	Tiles     int         `json:"tiles"`
	Occupants int         `json:"occupants"`
}

// Leaders returns the colors with the most occupants on the board, sorted
// by assignment order.
func Leaders(s *GameState) []PlayerColor {
	best := -1
	var out []PlayerColor
	for _, ps := range Scores(s) {
		switch {
		case ps.Occupants > best:
			best, out = ps.Occupants, []PlayerColor{ps.Color}
		case ps.Occupants == best:
			out = append(out, ps.Color)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return colorIndex(out[i]) < colorIndex(out[j]) })
	return out
}

func colorIndex(c PlayerColor) int {
	for i, known := range AllColors {
		if c == known {
			return i
		}
	}
	return len(AllColors)
}
