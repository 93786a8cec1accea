// Package sqlite persists canonical playback sessions as JSON rows. One row
// per session, last write wins; the database is a recovery snapshot, not a
// source of truth during normal operation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/resona-audio/resona/internal/domain"
)

type Store struct {
	db *sql.DB
}

// Open opens or creates the session database. dsn is a file path or
// ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent reads while the fan-out hub writes.
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS playback_sessions (
			profile    TEXT NOT NULL,
			session_id TEXT NOT NULL,
			data       TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (profile, session_id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadSessions(ctx context.Context, profile domain.ProfileID) ([]domain.PlaybackSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM playback_sessions WHERE profile = ? ORDER BY session_id`, string(profile))
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.PlaybackSession
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var session domain.PlaybackSession
		if err := json.Unmarshal(data, &session); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, session domain.PlaybackSession) error {
	return s.write(ctx, session)
}

// SaveSessionPatch loads the stored session, merges the patch, and writes the
// result back. A patch for a session that was never stored is a no-op.
func (s *Store) SaveSessionPatch(ctx context.Context, patch domain.SessionUpdate) error {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM playback_sessions WHERE profile = ? AND session_id = ?`,
		string(patch.Profile), string(patch.SessionID)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session for patch: %w", err)
	}

	var session domain.PlaybackSession
	if err := json.Unmarshal(data, &session); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	domain.Apply(&session, patch)
	return s.write(ctx, session)
}

func (s *Store) DeleteSession(ctx context.Context, profile domain.ProfileID, id domain.SessionID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM playback_sessions WHERE profile = ? AND session_id = ?`,
		string(profile), string(id))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, session domain.PlaybackSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO playback_sessions (profile, session_id, data, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(profile, session_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, string(session.Profile), string(session.ID), string(data))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
