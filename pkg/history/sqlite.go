package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jllopis/ecomentor/pkg/errors"
)

// SQLiteStore persists entries in SQLite.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteStore wraps db and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, errors.New(errors.CodeStorageError, "failed to create history schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLite opens the database file at path. Close releases it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeStorageError, "failed to open history database", err).
			WithContext("path", path)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record stores a single entry.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	roles, err := encodeJSON(e.Roles)
	if err != nil {
		return err
	}
	cards, err := encodeJSON(e.Cards)
	if err != nil {
		return err
	}
	degraded, err := encodeJSON(e.DegradedRoles)
	if err != nil {
		return err
	}
	failed, err := encodeJSON(e.FailedRoles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ask_history (
			request_id, question, mode, roles_json, router_source, cards_json,
			confidence, latency_ms, degraded_json, failed_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.RequestID,
		e.Question,
		e.Mode,
		roles,
		e.RouterSource,
		cards,
		e.Confidence,
		e.LatencyMS,
		degraded,
		failed,
		normalizeTime(e.CreatedAt),
	)
	if err != nil {
		return errors.New(errors.CodeStorageError, "failed to record history entry", err)
	}
	return nil
}

// List returns entries matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT request_id, question, mode, roles_json, router_source, cards_json,
			confidence, latency_ms, degraded_json, failed_json, created_at
		FROM ask_history
	`
	var args []any
	if filter.Role != "" {
		query += " WHERE EXISTS (SELECT 1 FROM json_each(roles_json) WHERE value = ?)"
		args = append(args, filter.Role)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeStorageError, "failed to list history", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                        Entry
			rolesJSON, cardsJSON     string
			degradedJSON, failedJSON sql.NullString
			created                  sql.NullTime
		)
		if err := rows.Scan(
			&e.RequestID,
			&e.Question,
			&e.Mode,
			&rolesJSON,
			&e.RouterSource,
			&cardsJSON,
			&e.Confidence,
			&e.LatencyMS,
			&degradedJSON,
			&failedJSON,
			&created,
		); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(rolesJSON), &e.Roles)
		_ = json.Unmarshal([]byte(cardsJSON), &e.Cards)
		if degradedJSON.Valid {
			_ = json.Unmarshal([]byte(degradedJSON.String), &e.DegradedRoles)
		}
		if failedJSON.Valid {
			_ = json.Unmarshal([]byte(failedJSON.String), &e.FailedRoles)
		}
		if created.Valid {
			e.CreatedAt = created.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ask_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			question TEXT NOT NULL,
			mode TEXT NOT NULL,
			roles_json TEXT NOT NULL,
			router_source TEXT,
			cards_json TEXT NOT NULL,
			confidence REAL,
			latency_ms INTEGER,
			degraded_json TEXT,
			failed_json TEXT,
			created_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_ask_history_created ON ask_history(created_at);
	`)
	return err
}
