package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/wricardo/chacun-server/game/engine"
)

var (
	ErrDeckNotFound = errors.New("deck not found")
	ErrInvalidDeck  = errors.New("invalid deck")
)

// DeckInfo summarizes a deck file for listings.
type DeckInfo struct {
	Filename    string `json:"filename"`
	DeckID      string `json:"deck_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tiles       int    `json:"tiles"`
	Shamans     int    `json:"shamans"`
}

// Manager loads deck files from a directory and caches them
type Manager struct {
	deckDir     string
	defaultDeck *engine.DeckConfig
	decks       map[string]*engine.DeckConfig
	mu          sync.RWMutex
}

// NewManager creates a deck manager reading from deckDir
func NewManager(deckDir string) (*Manager, error) {
	if _, err := os.Stat(deckDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("deck directory does not exist: %s", deckDir)
	}

	m := &Manager{
		deckDir: deckDir,
		decks:   make(map[string]*engine.DeckConfig),
	}
	m.loadDefaultDeck()
	return m, nil
}

// LoadDeck loads a deck by id (its file name without .json)
func (m *Manager) LoadDeck(id string) (*engine.DeckConfig, error) {
	id = strings.TrimSuffix(id, ".json")

	m.mu.RLock()
	if deck, ok := m.decks[id]; ok {
		m.mu.RUnlock()
		return deck, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if deck, ok := m.decks[id]; ok {
		return deck, nil
	}

	if strings.ContainsAny(id, `/\`) || id == "" || id == "." || id == ".." {
		return nil, fmt.Errorf("%w: %q", ErrDeckNotFound, id)
	}
	data, err := os.ReadFile(filepath.Join(m.deckDir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDeckNotFound, id)
		}
		return nil, fmt.Errorf("failed to read deck file: %w", err)
	}

	var deck engine.DeckConfig
	if err := json.Unmarshal(data, &deck); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidDeck, id, err)
	}
	if err := engine.ValidateDeck(&deck); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeck, err)
	}

	m.decks[id] = &deck
	return &deck, nil
}

// ListDecks describes every valid deck file in the directory, sorted by id
func (m *Manager) ListDecks() ([]*DeckInfo, error) {
	entries, err := os.ReadDir(m.deckDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck directory: %w", err)
	}

	var decks []*DeckInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		deck, err := m.LoadDeck(id)
		if err != nil {
			// Invalid files are reported by the validate tool, not here
			continue
		}
		decks = append(decks, describe(entry.Name(), id, deck))
	}
	sort.Slice(decks, func(i, j int) bool { return decks[i].DeckID < decks[j].DeckID })
	return decks, nil
}

func describe(filename, id string, deck *engine.DeckConfig) *DeckInfo {
	info := &DeckInfo{
		Filename:    filename,
		DeckID:      id,
		Name:        deck.Name,
		Description: deck.Description,
		Tiles:       deck.Size(),
	}
	for _, t := range engine.BuildTiles(deck) {
		if t.Shaman {
			info.Shamans++
		}
	}
	return info
}

// GetDefault returns the default deck
func (m *Manager) GetDefault() *engine.DeckConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultDeck
}

// SetDefault makes the deck with the given id the default
func (m *Manager) SetDefault(id string) error {
	deck, err := m.LoadDeck(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultDeck = deck
	return nil
}

// RefreshCache drops cached decks so they are re-read from disk
func (m *Manager) RefreshCache() {
	m.mu.Lock()
	m.decks = make(map[string]*engine.DeckConfig)
	m.mu.Unlock()

	m.loadDefaultDeck()
}

// loadDefaultDeck picks standard.json, then the first valid file, then the
// built-in deck
func (m *Manager) loadDefaultDeck() {
	deck, err := m.LoadDeck("standard")
	if err != nil {
		deck = engine.DefaultDeck()
		if infos, listErr := m.ListDecks(); listErr == nil && len(infos) > 0 {
			if first, err := m.LoadDeck(infos[0].DeckID); err == nil {
				deck = first
			}
		}
	}

	m.mu.Lock()
	m.defaultDeck = deck
	m.mu.Unlock()
}

// SaveDeck validates deck and writes it as id.json
func (m *Manager) SaveDeck(id string, deck *engine.DeckConfig) error {
	if err := engine.ValidateDeck(deck); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeck, err)
	}
	id = strings.TrimSuffix(id, ".json")

	data, err := json.MarshalIndent(deck, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal deck: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.deckDir, id+".json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write deck file: %w", err)
	}

	m.mu.Lock()
	m.decks[id] = deck
	m.mu.Unlock()
	return nil
}
