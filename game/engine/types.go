package engine

import "fmt"

// PlayerColor identifies a player within one game.
type PlayerColor string

const (
	Red    PlayerColor = "RED"
	Blue   PlayerColor = "BLUE"
	Green  PlayerColor = "GREEN"
	Yellow PlayerColor = "YELLOW"
	Purple PlayerColor = "PURPLE"
)

// AllColors lists the colors in assignment order.
var AllColors = []PlayerColor{Red, Blue, Green, Yellow, Purple}

const (
	MinPlayers = 2
	MaxPlayers = 5

	// Occupants available to each player.
	PawnCount = 5
	HutCount  = 3

	// MaxDeckSize keeps every occupant index below the "no occupant" symbol.
	MaxDeckSize = 31
)

// SideKind is the terrain along one edge of a tile.
type SideKind string

const (
	Meadow SideKind = "meadow"
	Forest SideKind = "forest"
	River  SideKind = "river"
)

func (k SideKind) valid() bool {
	return k == Meadow || k == Forest || k == River
}

// Direction indexes tile sides clockwise from the top.
type Direction int

const (
	North Direction = iota
	East
	South
	West
)

// Opposite returns the direction facing d.
func (d Direction) Opposite() Direction { return (d + 2) % 4 }

// Rotation is a number of clockwise quarter turns, 0 to 3.
type Rotation int

// Pos is a board coordinate. y grows southwards.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Neighbor returns the position adjacent to p in direction d.
func (p Pos) Neighbor(d Direction) Pos {
	switch d {
	case North:
		return Pos{p.X, p.Y - 1}
	case East:
		return Pos{p.X + 1, p.Y}
	case South:
		return Pos{p.X, p.Y + 1}
	default:
		return Pos{p.X - 1, p.Y}
	}
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Tile is an unplaced tile. Sides are listed North, East, South, West.
type Tile struct {
	ID     int         `json:"id"`
	Sides  [4]SideKind `json:"sides"`
	Shaman bool        `json:"shaman,omitempty"`
}

// OccupantKind is a pawn or a hut. The values are part of the wire encoding.
type OccupantKind int

const (
	Pawn OccupantKind = 0
	Hut  OccupantKind = 1
)

func (k OccupantKind) String() string {
	if k == Hut {
		return "hut"
	}
	return "pawn"
}

// Occupant is a pawn or hut standing in a zone.
type Occupant struct {
	Kind   OccupantKind `json:"kind"`
	ZoneID int          `json:"zone_id"`
}

// ZoneID builds a zone id from a tile id and a local zone id.
func ZoneID(tileID, local int) int { return tileID*10 + local }

// TileOf returns the tile id a zone belongs to.
func TileOf(zoneID int) int { return zoneID / 10 }

// LocalZone returns the tile-local part of a zone id.
func LocalZone(zoneID int) int { return zoneID % 10 }

// PlacedTile is a tile on the board. Placer is empty for the starting tile.
type PlacedTile struct {
	Tile     Tile        `json:"tile"`
	Placer   PlayerColor `json:"placer,omitempty"`
	Rotation Rotation    `json:"rotation"`
	Pos      Pos         `json:"pos"`
	Occupant *Occupant   `json:"occupant,omitempty"`
}

// Side returns the terrain the placed tile shows towards d.
func (pt PlacedTile) Side(d Direction) SideKind {
	return pt.Tile.Sides[(int(d)-int(pt.Rotation)+8)%4]
}

// NextAction is the move the game expects next.
type NextAction string

const (
	StartGame  NextAction = "START_GAME"
	PlaceTile  NextAction = "PLACE_TILE"
	RetakePawn NextAction = "RETAKE_PAWN"
	OccupyTile NextAction = "OCCUPY_TILE"
	EndGame    NextAction = "END_GAME"
)
