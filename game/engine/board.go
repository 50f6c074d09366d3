package engine

import (
	"slices"
	"sort"
)

// Board holds the placed tiles in placement order. It is treated as a
// value: every change yields a new Board sharing nothing mutable with the
// old one.
type Board struct {
	Tiles []PlacedTile `json:"tiles"`
}

// TileAt returns the tile at p.
func (b Board) TileAt(p Pos) (PlacedTile, bool) {
	for _, pt := range b.Tiles {
		if pt.Pos == p {
			return pt, true
		}
	}
	return PlacedTile{}, false
}

// TileWithID returns the placed tile with the given tile id.
func (b Board) TileWithID(id int) (PlacedTile, bool) {
	for _, pt := range b.Tiles {
		if pt.Tile.ID == id {
			return pt, true
		}
	}
	return PlacedTile{}, false
}

// LastPlaced returns the most recently placed tile.
func (b Board) LastPlaced() (PlacedTile, bool) {
	if len(b.Tiles) == 0 {
		return PlacedTile{}, false
	}
	return b.Tiles[len(b.Tiles)-1], true
}

// InsertionPositions returns the empty positions next to at least one
// placed tile, sorted by x then y.
func (b Board) InsertionPositions() []Pos {
	seen := make(map[Pos]bool)
	var out []Pos
	for _, pt := range b.Tiles {
		for d := North; d <= West; d++ {
			n := pt.Pos.Neighbor(d)
			if seen[n] {
				continue
			}
			seen[n] = true
			if _, taken := b.TileAt(n); !taken {
				out = append(out, n)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

// CanAddTile reports whether pt fits: its position is free, it touches the
// board, and every neighbour shows the same terrain on the shared edge.
func (b Board) CanAddTile(pt PlacedTile) bool {
	if pt.Rotation < 0 || pt.Rotation > 3 {
		return false
	}
	if _, taken := b.TileAt(pt.Pos); taken {
		return false
	}
	if _, dup := b.TileWithID(pt.Tile.ID); dup {
		return false
	}
	touching := false
	for d := North; d <= West; d++ {
		n, ok := b.TileAt(pt.Pos.Neighbor(d))
		if !ok {
			continue
		}
		touching = true
		if n.Side(d.Opposite()) != pt.Side(d) {
			return false
		}
	}
	return touching || len(b.Tiles) == 0
}

// CouldPlaceTile reports whether t fits anywhere in any rotation.
func (b Board) CouldPlaceTile(t Tile) bool {
	for _, p := range b.InsertionPositions() {
		for r := Rotation(0); r < 4; r++ {
			if b.CanAddTile(PlacedTile{Tile: t, Rotation: r, Pos: p}) {
				return true
			}
		}
	}
	return false
}

// Occupants returns every occupant on the board sorted by zone id.
func (b Board) Occupants() []Occupant {
	var out []Occupant
	for _, pt := range b.Tiles {
		if pt.Occupant != nil {
			out = append(out, *pt.Occupant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneID < out[j].ZoneID })
	return out
}

// OccupantCount counts the occupants of kind placed by color.
func (b Board) OccupantCount(color PlayerColor, kind OccupantKind) int {
	n := 0
	for _, pt := range b.Tiles {
		if pt.Occupant != nil && pt.Occupant.Kind == kind && pt.Placer == color {
			n++
		}
	}
	return n
}

func (b Board) withTile(pt PlacedTile) Board {
	return Board{Tiles: append(slices.Clone(b.Tiles), pt)}
}

// withOccupant sets occ on the tile owning its zone.
func (b Board) withOccupant(occ Occupant) Board {
	tiles := slices.Clone(b.Tiles)
	for i := range tiles {
		if tiles[i].Tile.ID == TileOf(occ.ZoneID) {
			o := occ
			tiles[i].Occupant = &o
		}
	}
	return Board{Tiles: tiles}
}

func (b Board) withoutOccupant(occ Occupant) Board {
	tiles := slices.Clone(b.Tiles)
	for i := range tiles {
		if tiles[i].Occupant != nil && *tiles[i].Occupant == occ {
			tiles[i].Occupant = nil
		}
	}
	return Board{Tiles: tiles}
}
