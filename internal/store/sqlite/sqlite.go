package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/pulse-server/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS channel_tables (
	room       TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore persists channel tables in SQLite, one JSON row per room.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load returns the stored table for room, or an empty table if none exists.
func (s *SQLiteStore) Load(ctx context.Context, room string) (core.ChannelTable, error) {
	query := `SELECT data FROM channel_tables WHERE room = ?`

	var data string
	err := s.db.QueryRowContext(ctx, query, room).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ChannelTable{}, nil
		}
		return nil, fmt.Errorf("query channel table: %w", err)
	}

	table := core.ChannelTable{}
	if err := json.Unmarshal([]byte(data), &table); err != nil {
		return nil, fmt.Errorf("decode channel table: %w", err)
	}
	return table, nil
}

// Save overwrites the stored table for room.
func (s *SQLiteStore) Save(ctx context.Context, room string, table core.ChannelTable) error {
	if table == nil {
		table = core.ChannelTable{}
	}
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode channel table: %w", err)
	}

	query := `
		INSERT INTO channel_tables (room, data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, room, string(data)); err != nil {
		return fmt.Errorf("upsert channel table: %w", err)
	}
	return nil
}
