package store

import (
	"database/sql"
	"errors"
	"time"
)

// GetStats counts messages, distinct conversations of number and queued
// outbox entries.
func (db *DB) GetStats(number string) (Stats, error) {
	var s Stats
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&s.Messages); err != nil {
		return s, err
	}
	err := db.QueryRow(`
		SELECT COUNT(DISTINCT CASE WHEN from_number = ? THEN to_number ELSE from_number END)
		FROM messages WHERE from_number = ? OR to_number = ?`, number, number, number).Scan(&s.Chats)
	if err != nil {
		return s, err
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status = 'queued'`).Scan(&s.Queued); err != nil {
		return s, err
	}
	return s, nil
}

// GetSyncState returns a checkpoint value, or "" when unset.
func (db *DB) GetSyncState(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// SetSyncState stores a checkpoint value.
func (db *DB) SetSyncState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}
