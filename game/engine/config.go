package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrInvalidDeck = errors.New("invalid deck")

// TileSpec describes Count identical tiles in a deck file.
type TileSpec struct {
	Sides  [4]SideKind `json:"sides"`
	Shaman bool        `json:"shaman,omitempty"`
	Count  int         `json:"count,omitempty"`
}

// DeckConfig is the JSON description of a tile set.
type DeckConfig struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Start       TileSpec   `json:"start"`
	Tiles       []TileSpec `json:"tiles"`
}

func (s TileSpec) count() int {
	if s.Count <= 0 {
		return 1
	}
	return s.Count
}

// Size returns the number of tiles in the deck, starting tile included.
func (d *DeckConfig) Size() int {
	n := 1
	for _, s := range d.Tiles {
		n += s.count()
	}
	return n
}

// ValidateDeck checks a deck for playability.
func ValidateDeck(d *DeckConfig) error {
	if d == nil {
		return fmt.Errorf("%w: nil deck", ErrInvalidDeck)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDeck)
	}
	if len(d.Tiles) == 0 {
		return fmt.Errorf("%w: at least one tile besides the starting tile is required", ErrInvalidDeck)
	}
	if d.Start.Shaman {
		return fmt.Errorf("%w: the starting tile cannot be a shaman", ErrInvalidDeck)
	}
	if size := d.Size(); size > MaxDeckSize {
		return fmt.Errorf("%w: %d tiles, at most %d allowed", ErrInvalidDeck, size, MaxDeckSize)
	}
	specs := append([]TileSpec{d.Start}, d.Tiles...)
	for i, s := range specs {
		for j, side := range s.Sides {
			if !side.valid() {
				return fmt.Errorf("%w: tile %d side %d has unknown kind %q", ErrInvalidDeck, i, j, side)
			}
		}
		if s.Count < 0 {
			return fmt.Errorf("%w: tile %d has negative count", ErrInvalidDeck, i)
		}
	}
	return nil
}

// BuildTiles expands a deck into tiles with sequential ids. The starting
// tile comes first with id 0.
func BuildTiles(d *DeckConfig) []Tile {
	tiles := []Tile{{ID: 0, Sides: d.Start.Sides}}
	for _, s := range d.Tiles {
		for range s.count() {
			tiles = append(tiles, Tile{ID: len(tiles), Sides: s.Sides, Shaman: s.Shaman})
		}
	}
	return tiles
}

// LoadDeck reads and validates a deck file.
func LoadDeck(filename string) (*DeckConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck file: %w", err)
	}
	var d DeckConfig
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse deck file: %w", err)
	}
	if err := ValidateDeck(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DefaultDeck returns the built-in deck used when no deck files are configured.
func DefaultDeck() *DeckConfig {
	m, f, r := Meadow, Forest, River
	return &DeckConfig{
		Name:        "standard",
		Description: "Built-in 24 tile deck with meadows, forests, a river and two shamans",
		Start:       TileSpec{Sides: [4]SideKind{m, f, m, r}},
		Tiles: []TileSpec{
			{Sides: [4]SideKind{m, m, m, m}, Count: 3},
			{Sides: [4]SideKind{f, f, m, m}, Count: 3},
			{Sides: [4]SideKind{f, m, f, m}, Count: 2},
			{Sides: [4]SideKind{r, m, r, m}, Count: 3},
			{Sides: [4]SideKind{r, r, m, m}, Count: 2},
			{Sides: [4]SideKind{f, f, f, m}, Count: 2},
			{Sides: [4]SideKind{f, r, m, r}, Count: 2},
			{Sides: [4]SideKind{m, f, m, f}, Count: 2},
			{Sides: [4]SideKind{m, m, f, m}, Count: 2},
			{Sides: [4]SideKind{m, f, m, m}, Shaman: true, Count: 2},
		},
	}
}
