package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-bot/internal/store"
)

// Schema creates the tables used by the bot.
const Schema = `
CREATE TABLE IF NOT EXISTS items (
	uid        TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	user_name  TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_items_type_timestamp ON items (type, timestamp);
CREATE TABLE IF NOT EXISTS snapshots (
	type       TEXT PRIMARY KEY,
	uids       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens dbPath and applies Schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup opens dbPath and runs setup before the first use.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection: keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ApplySchema creates missing tables.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ItemStore implementation ====

// Insert stores item unless its uid is already present.
func (s *SQLiteStore) Insert(ctx context.Context, item store.Item) (bool, error) {
	if item.UID == "" {
		return false, errors.New("insert item: empty uid")
	}
	payload := item.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	query := `
		INSERT INTO items (uid, type, timestamp, user_id, user_name, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		item.UID, item.Type, item.Timestamp, item.User.ID, item.User.Name, string(payload))
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Exists reports whether uid is stored.
func (s *SQLiteStore) Exists(ctx context.Context, uid string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM items WHERE uid = ?`, uid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query item: %w", err)
	}
	return true, nil
}

// Get retrieves an item by uid.
func (s *SQLiteStore) Get(ctx context.Context, uid string) (*store.Item, error) {
	query := `
		SELECT uid, type, timestamp, user_id, user_name, payload
		FROM items
		WHERE uid = ?
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, uid))
}

// Latest returns the newest item of itemType.
func (s *SQLiteStore) Latest(ctx context.Context, itemType string) (*store.Item, error) {
	query := `
		SELECT uid, type, timestamp, user_id, user_name, payload
		FROM items
		WHERE type = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT 1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, itemType))
}

// ListByType returns items of itemType from since on, oldest first.
func (s *SQLiteStore) ListByType(ctx context.Context, itemType string, since int64) ([]store.Item, error) {
	query := `
		SELECT uid, type, timestamp, user_id, user_name, payload
		FROM items
		WHERE type = ? AND timestamp >= ?
		ORDER BY timestamp ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, itemType, since)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []store.Item
	for rows.Next() {
		var (
			item    store.Item
			payload string
		)
		if err := rows.Scan(&item.UID, &item.Type, &item.Timestamp, &item.User.ID, &item.User.Name, &payload); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.Payload = json.RawMessage(payload)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) scanOne(row *sql.Row) (*store.Item, error) {
	var (
		item    store.Item
		payload string
	)
	err := row.Scan(&item.UID, &item.Type, &item.Timestamp, &item.User.ID, &item.User.Name, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query item: %w", err)
	}
	item.Payload = json.RawMessage(payload)
	return &item, nil
}

// ==== SnapshotStore implementation ====

// SaveSnapshot upserts the uid list for ownerType.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, ownerType string, uids []string) error {
	if uids == nil {
		uids = []string{}
	}
	encoded, err := json.Marshal(uids)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	query := `
		INSERT INTO snapshots (type, uids, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(type) DO UPDATE SET uids = excluded.uids, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, ownerType, string(encoded), time.Now().Unix()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the uids saved for ownerType.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, ownerType string) ([]string, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT uids FROM snapshots WHERE type = ?`, ownerType).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var uids []string
	if err := json.Unmarshal([]byte(encoded), &uids); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return uids, nil
}

var _ store.Store = (*SQLiteStore)(nil)
