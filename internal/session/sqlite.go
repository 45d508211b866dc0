package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/deskmate/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteBackend stores each session as a JSON document keyed by user id.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := b.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Load(ctx context.Context, userID types.UserID) (*ConversationSession, error) {
	var state string
	err := b.db.QueryRowContext(ctx, `SELECT state_json FROM sessions WHERE user_id = ?`, string(userID)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return decode([]byte(state))
}

func (b *SQLiteBackend) Save(ctx context.Context, sess *ConversationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	query := `
	INSERT INTO sessions (user_id, state_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		state_json = excluded.state_json,
		updated_at = excluded.updated_at`
	if _, err := b.db.ExecContext(ctx, query, string(sess.UserID), string(data), sess.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, userID types.UserID) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, string(userID)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]*ConversationSession, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT state_json FROM sessions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*ConversationSession
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess, err := decode([]byte(state))
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}
