// Package config loads the tile decks games are dealt from.
//
// Decks are JSON files in a directory, one deck per file, identified by the
// file name without its extension:
//
//	{
//	  "name": "standard",
//	  "description": "...",
//	  "start": {"sides": ["meadow", "forest", "meadow", "river"]},
//	  "tiles": [
//	    {"sides": ["meadow", "meadow", "meadow", "meadow"], "count": 3},
//	    {"sides": ["meadow", "forest", "meadow", "meadow"], "shaman": true}
//	  ]
//	}
//
// Sides are listed north, east, south, west. A deck holds at most 31 tiles,
// starting tile included.
//
// Usage:
//
//	manager, err := config.NewManager("configs")
//	if err != nil {
//		log.Fatal(err)
//	}
//	deck, err := manager.LoadDeck("small")
//	rules, err := engine.NewRules(deck)
//
// The default deck is standard.json when present, otherwise the first valid
// deck in the directory, otherwise engine.DefaultDeck.
package config
