// Command validate checks the deck JSON files in a directory (../configs by
// default). For every file it checks:
//   - JSON structure and required fields
//   - side kinds (meadow, forest, river) and tile counts
//   - the deck size limit imposed by the occupant encoding
//   - playability: a dry-run game deals, places tiles and reaches the end
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wricardo/chacun-server/game/engine"
)

// maxDryRunActions bounds the dry run; a deck plays in far fewer actions.
const maxDryRunActions = 10 * engine.MaxDeckSize

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) info(format string, args ...any) {
	r.Errors = append(r.Errors, "✓ "+fmt.Sprintf(format, args...))
}

// validateDeck loads and validates a single deck file.
func validateDeck(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	deck, err := engine.LoadDeck(filePath)
	if err != nil {
		result.fail("%v", err)
		return result
	}

	if id := strings.TrimSuffix(result.File, ".json"); deck.Name != id {
		result.fail("deck name %q does not match file name %q", deck.Name, id)
	}

	shamans, rivers := 0, 0
	for _, s := range deck.Tiles {
		n := max(s.Count, 1)
		if s.Shaman {
			shamans += n
		}
		for _, side := range s.Sides {
			if side == engine.River {
				rivers += n
				break
			}
		}
	}
	if !fitsAnywhere(deck) {
		result.fail("no tile can be placed next to the starting tile")
	}

	if result.Valid {
		dry := dryRun(deck)
		if !dry.Valid {
			result.Valid = false
		}
		result.Errors = append(result.Errors, dry.Errors...)
	}

	if result.Valid {
		result.info("Name: %s", deck.Name)
		result.info("Tiles: %d (limit %d)", deck.Size(), engine.MaxDeckSize)
		result.info("Shamans: %d", shamans)
		result.info("River tiles: %d", rivers)
	}
	return result
}

// fitsAnywhere reports whether at least one deck tile, in some rotation,
// matches a side of the starting tile.
func fitsAnywhere(deck *engine.DeckConfig) bool {
	for _, s := range deck.Tiles {
		for _, side := range s.Sides {
			for _, start := range deck.Start.Sides {
				if side == start {
					return true
				}
			}
		}
	}
	return false
}

// dryRun plays a two player game, always choosing the first legal
// placement and no occupant, and checks that it ends.
func dryRun(deck *engine.DeckConfig) ValidationResult {
	result := ValidationResult{Valid: true, Errors: []string{}}

	rules, err := engine.NewRules(deck)
	if err != nil {
		result.fail("cannot build rules: %v", err)
		return result
	}
	state, err := rules.NewGame("validate", []engine.PlayerColor{engine.Red, engine.Blue})
	if err != nil {
		result.fail("cannot deal: %v", err)
		return result
	}

	actions := 0
	for !rules.IsFinished(state) {
		if actions >= maxDryRunActions {
			result.fail("dry run did not finish after %d actions", actions)
			return result
		}
		action, err := firstAction(state)
		if err != nil {
			result.fail("dry run stuck at %s: %v", state.NextAction, err)
			return result
		}
		player, _ := state.CurrentPlayer()
		next, _, err := rules.Apply(state, action, player)
		if err != nil {
			result.fail("dry run rejected %q at %s: %v", action, state.NextAction, err)
			return result
		}
		state = next
		actions++
	}

	placed := len(state.Board.Tiles)
	if placed < 2 {
		result.fail("dry run placed no tile besides the starting tile")
		return result
	}
	result.info("Dry run: %d actions, %d/%d tiles placed", actions, placed, deck.Size())
	return result
}

func firstAction(s *engine.GameState) (string, error) {
	switch s.NextAction {
	case engine.PlaceTile:
		placements := engine.LegalPlacements(s)
		if len(placements) == 0 {
			return "", fmt.Errorf("tile %d has no legal placement", s.TileToPlace.ID)
		}
		return placements[0].Action, nil
	case engine.OccupyTile:
		return engine.EncodeOccupant(nil), nil
	case engine.RetakePawn:
		return engine.EncodeRetake(s, nil)
	}
	return "", fmt.Errorf("no action possible")
}

// main scans the deck directory for *.json files and validates each one,
// printing a concise report and exiting with non-zero status if any are
// invalid.
func main() {
	deckDir := "../configs"
	if len(os.Args) > 1 {
		deckDir = os.Args[1]
	}
	files, err := filepath.Glob(filepath.Join(deckDir, "*.json"))
	if err != nil {
		fmt.Printf("Error finding deck files: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Printf("No deck files in %s\n", deckDir)
		os.Exit(1)
	}

	allValid := true
	for _, file := range files {
		result := validateDeck(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") {
					fmt.Println("  ❌ " + err)
				}
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All decks are valid!")
	} else {
		fmt.Println("❌ Some decks have errors")
		os.Exit(1)
	}
}
