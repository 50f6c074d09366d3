// Package engine implements the rules of the tile placement game played on
// the server, and the compact encoding of its actions.
//
// The engine package implements:
//   - Deck loading, validation and deterministic shuffling by game name
//   - Board geometry: insertion positions, edge matching, occupants
//   - The turn cycle: place a tile, optionally retake a pawn, occupy
//   - The base32 action codec used on the wire
//
// Core Types:
//
// Engine is the narrow contract the session layer depends on; Rules is the
// implementation shipped here. GameState is immutable: every transition
// returns a new state, so a rejected action never changes anything.
//
// Action Encoding:
//
// Which shape an action has depends on GameState.NextAction:
//   - PLACE_TILE: two symbols, fringe index << 2 | rotation
//   - OCCUPY_TILE: one symbol, kind << 4 | local zone, or "7" for none
//   - RETAKE_PAWN: one symbol, index into occupants sorted by zone, or "7"
//
// Fringe positions are sorted by x then y. Zone ids are tileID*10 + local
// zone, where the local zone of a side is its unrotated index (N=0 to W=3).
//
// Usage:
//
//	rules := engine.NewDefaultRules()
//	state, err := rules.NewGame("g1", []engine.PlayerColor{engine.Red, engine.Blue})
//	if err != nil {
//		log.Fatal(err)
//	}
//	next, outcome, err := rules.Apply(state, "AA", engine.Red)
package engine
