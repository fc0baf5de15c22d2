// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/backchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrSessionNotFound is returned when a session doesn't exist.
var ErrSessionNotFound = errors.New("session not found")

// =============================================================================
// SESSION STORE
// =============================================================================

// Store persists sessions in a sqlite database.
type Store struct {
	db *sql.DB

	// RetentionItems bounds stored discovery items per session; Save trims
	// older items beyond this count. Zero disables trimming.
	RetentionItems int
}

// SessionMeta is lightweight listing metadata.
type SessionMeta struct {
	ID           string
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Open opens (creating if needed) the session database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps reads from blocking the save path.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init metadata: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load retrieves a session by id.
func (s *Store) Load(id string) (*model.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, title, created_at, updated_at, container_id, settings, messages, discovery_items
		FROM sessions WHERE id = ?`, id)

	var (
		sess                        model.Session
		createdMs, updatedMs        int64
		settingsJS, msgsJS, discoJS []byte
	)
	err := row.Scan(&sess.ID, &sess.Title, &createdMs, &updatedMs,
		&sess.ContainerID, &settingsJS, &msgsJS, &discoJS)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess.CreatedAt = time.UnixMilli(createdMs)
	sess.UpdatedAt = time.UnixMilli(updatedMs)
	if err := json.Unmarshal(settingsJS, &sess.Settings); err != nil {
		return nil, fmt.Errorf("corrupt settings for %s: %w", id, err)
	}
	if err := json.Unmarshal(msgsJS, &sess.Messages); err != nil {
		return nil, fmt.Errorf("corrupt messages for %s: %w", id, err)
	}
	if err := json.Unmarshal(discoJS, &sess.DiscoveryItems); err != nil {
		return nil, fmt.Errorf("corrupt discovery items for %s: %w", id, err)
	}
	if sess.Messages == nil {
		sess.Messages = make([]*model.Message, 0)
	}
	return &sess, nil
}

// Save persists a session, inserting or replacing the row. Discovery items
// beyond the retention window are trimmed before the write.
func (s *Store) Save(sess *model.Session) error {
	if sess.ID == "" {
		return errors.New("session id must not be empty")
	}
	if s.RetentionItems > 0 {
		sess.TrimDiscoveryItems(s.RetentionItems)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}

	settingsJS, err := json.Marshal(sess.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	msgsJS, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	discoJS, err := json.Marshal(sess.DiscoveryItems)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery items: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, title, created_at, updated_at, container_id, settings, messages, discovery_items, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at,
			container_id = excluded.container_id,
			settings = excluded.settings,
			messages = excluded.messages,
			discovery_items = excluded.discovery_items,
			message_count = excluded.message_count`,
		sess.ID, sess.Title, sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(),
		sess.ContainerID, settingsJS, msgsJS, discoJS, len(sess.Messages))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// =============================================================================
// TARGETED UPDATES
// =============================================================================

// SaveContainerID records the provider-issued sandbox handle for a session
// without rewriting the transcript.
func (s *Store) SaveContainerID(sessionID, containerID string) error {
	res, err := s.db.Exec(`UPDATE sessions SET container_id = ? WHERE id = ?`,
		containerID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to save container id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// =============================================================================
// LISTING
// =============================================================================

// List returns session metadata, most recently updated first.
func (s *Store) List() ([]SessionMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, title, message_count, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var metas []SessionMeta
	for rows.Next() {
		var (
			m                    SessionMeta
			createdMs, updatedMs int64
		)
		if err := rows.Scan(&m.ID, &m.Title, &m.MessageCount, &createdMs, &updatedMs); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(createdMs)
		m.UpdatedAt = time.UnixMilli(updatedMs)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes a session by id.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
