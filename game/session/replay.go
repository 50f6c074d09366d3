package session

import (
	"fmt"

	"github.com/wricardo/chacun-server/game/engine"
	"github.com/wricardo/chacun-server/game/history"
)

// Replay rebuilds the final state of a recorded game by dealing it again
// and applying every recorded action in order. rules must deal from the
// deck the game was played with.
func Replay(rules engine.Engine, rec *history.Record) (*engine.GameState, error) {
	colors := make([]engine.PlayerColor, 0, len(rec.Players))
	for _, p := range rec.Players {
		colors = append(colors, engine.PlayerColor(p.Color))
	}
	state, err := rules.NewGame(rec.Game, colors)
	if err != nil {
		return nil, fmt.Errorf("failed to deal %s: %w", rec.Game, err)
	}

	for i, action := range rec.Actions {
		current, ok := state.CurrentPlayer()
		if !ok {
			return nil, fmt.Errorf("action %d (%q): %w", i, action, engine.ErrGameFinished)
		}
		next, _, err := rules.Apply(state, action, current)
		if err != nil {
			return nil, fmt.Errorf("action %d (%q): %w", i, action, err)
		}
		state = next
	}

	if rec.Outcome == history.OutcomeWon && !rules.IsFinished(state) {
		return state, fmt.Errorf("record %s says the game was won but replay did not finish", rec.ID)
	}
	return state, nil
}
