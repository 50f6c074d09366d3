// Command analyze prints quick, human-readable heuristics about the deck
// files in the project's configs directory. It summarizes the side kinds of
// each deck and deals many games to see how many tiles end up discarded.
package main

import (
	"fmt"
	"os"

	"github.com/wricardo/chacun-server/game/config"
	"github.com/wricardo/chacun-server/game/engine"
)

// deals is the number of games dealt per deck.
const deals = 200

// DeckAnalysis is the summary printed for one deck.
type DeckAnalysis struct {
	Name         string
	Tiles        int
	Shamans      int
	Sides        map[engine.SideKind]int
	Deals        int
	AvgPlaced    float64
	MinPlaced    int
	FullBoards   int
	FailedDeals  int
	FirstFailure string
}

func main() {
	dir := "configs"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	decks, err := config.NewManager(dir)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	infos, err := decks.ListDecks()
	if err != nil {
		fmt.Printf("Error listing decks: %v\n", err)
		os.Exit(1)
	}

	for _, info := range infos {
		fmt.Printf("\n=== Analyzing %s ===\n", info.Filename)
		deck, err := decks.LoadDeck(info.DeckID)
		if err != nil {
			fmt.Printf("Error loading deck: %v\n", err)
			continue
		}
		printAnalysis(analyzeDeck(deck, deals))
	}
}

// analyzeDeck deals n two player games of deck and plays each with the
// first legal placement and no occupants.
func analyzeDeck(deck *engine.DeckConfig, n int) DeckAnalysis {
	a := DeckAnalysis{
		Name:      deck.Name,
		Tiles:     deck.Size(),
		Sides:     make(map[engine.SideKind]int),
		MinPlaced: deck.Size(),
	}
	for _, tile := range engine.BuildTiles(deck) {
		if tile.Shaman {
			a.Shamans++
		}
		for _, side := range tile.Sides {
			a.Sides[side]++
		}
	}

	rules, err := engine.NewRules(deck)
	if err != nil {
		a.FailedDeals = n
		a.FirstFailure = err.Error()
		return a
	}

	total := 0
	for i := range n {
		placed, err := playOut(rules, fmt.Sprintf("analysis-%d", i))
		if err != nil {
			a.FailedDeals++
			if a.FirstFailure == "" {
				a.FirstFailure = err.Error()
			}
			continue
		}
		a.Deals++
		total += placed
		a.MinPlaced = min(a.MinPlaced, placed)
		if placed == a.Tiles {
			a.FullBoards++
		}
	}
	if a.Deals > 0 {
		a.AvgPlaced = float64(total) / float64(a.Deals)
	}
	return a
}

// playOut plays one game to the end and returns the number of tiles on the
// final board.
func playOut(rules *engine.Rules, name string) (int, error) {
	state, err := rules.NewGame(name, []engine.PlayerColor{engine.Red, engine.Blue})
	if err != nil {
		return 0, err
	}
	for !rules.IsFinished(state) {
		var action string
		switch state.NextAction {
		case engine.PlaceTile:
			placements := engine.LegalPlacements(state)
			if len(placements) == 0 {
				return 0, fmt.Errorf("%s: tile %d cannot be placed", name, state.TileToPlace.ID)
			}
			action = placements[0].Action
		case engine.OccupyTile:
			action = engine.EncodeOccupant(nil)
		case engine.RetakePawn:
			action, _ = engine.EncodeRetake(state, nil)
		default:
			return 0, fmt.Errorf("%s: stuck at %s", name, state.NextAction)
		}
		player, _ := state.CurrentPlayer()
		if state, _, err = rules.Apply(state, action, player); err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
	}
	return len(state.Board.Tiles), nil
}

func printAnalysis(a DeckAnalysis) {
	fmt.Printf("Name: %s\n", a.Name)
	fmt.Printf("Tiles: %d (%d shamans)\n", a.Tiles, a.Shamans)
	fmt.Printf("Sides: %d meadow, %d forest, %d river\n",
		a.Sides[engine.Meadow], a.Sides[engine.Forest], a.Sides[engine.River])

	if a.FailedDeals > 0 {
		fmt.Printf("⚠️  WARNING: %d of %d deals failed: %s\n", a.FailedDeals, a.FailedDeals+a.Deals, a.FirstFailure)
	}
	if a.Deals == 0 {
		return
	}
	fmt.Printf("Tiles placed: %.1f on average, %d at worst\n", a.AvgPlaced, a.MinPlaced)
	if a.FullBoards == a.Deals {
		fmt.Printf("✅ Every deal placed the whole deck\n")
	} else {
		fmt.Printf("⚠️  %d of %d deals discarded at least one tile\n", a.Deals-a.FullBoards, a.Deals)
	}
}
