package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS game_records (
	id         TEXT PRIMARY KEY,
	game       TEXT NOT NULL,
	deck       TEXT NOT NULL,
	players    JSONB NOT NULL,
	actions    JSONB NOT NULL,
	outcome    TEXT NOT NULL,
	winners    JSONB NOT NULL DEFAULT '[]',
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS game_records_ended_at ON game_records (ended_at DESC);
`

// PostgresStore keeps records in the game_records table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn with the lib/pq driver and creates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Save inserts rec. Saving the same id twice keeps the first copy.
func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return fmt.Errorf("failed to marshal players: %w", err)
	}
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	winners, err := json.Marshal(append([]string{}, rec.Winners...))
	if err != nil {
		return fmt.Errorf("failed to marshal winners: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO game_records (id, game, deck, players, actions, outcome, winners, started_at, ended_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Game, rec.Deck, players, actions, rec.Outcome, winners, rec.StartedAt, rec.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*Record, error) {
	var (
		rec                       Record
		players, actions, winners []byte
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT id, game, deck, players, actions, outcome, winners, started_at, ended_at
	FROM game_records WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Game, &rec.Deck, &players, &actions, &rec.Outcome, &winners, &rec.StartedAt, &rec.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", id, err)
	}
	if err := json.Unmarshal(players, &rec.Players); err != nil {
		return nil, fmt.Errorf("failed to unmarshal players: %w", err)
	}
	if err := json.Unmarshal(actions, &rec.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if err := json.Unmarshal(winners, &rec.Winners); err != nil {
		return nil, fmt.Errorf("failed to unmarshal winners: %w", err)
	}
	if len(rec.Winners) == 0 {
		rec.Winners = nil
	}
	return &rec, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT id FROM game_records ORDER BY ended_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
