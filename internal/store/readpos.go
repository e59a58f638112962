package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// MarkRead records msgID as the newest message the user has seen in chatID.
func (db *DB) MarkRead(ctx context.Context, chatID, msgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO read_positions (chat_id, msg_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET msg_id = excluded.msg_id, updated_at = excluded.updated_at`,
		chatID, msgID, now)
	return err
}

// ReadPosition returns the last seen message of chatID.
func (db *DB) ReadPosition(ctx context.Context, chatID string) (string, bool, error) {
	var msgID string
	err := db.QueryRowContext(ctx, `SELECT msg_id FROM read_positions WHERE chat_id = ?`, chatID).Scan(&msgID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return msgID, true, nil
}
