package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/pokulabs/poku/internal/stream"
)

const messageColumns = `id, sid, from_number, to_number, body, date_sent, status, error_code`

// UpsertMessage inserts or updates a message (idempotent on sid).
// It reports whether a new row was created.
func (db *DB) UpsertMessage(m stream.Message) (bool, error) {
	now := time.Now().UnixMilli()
	var existed bool
	err := db.QueryRow(`SELECT 1 FROM messages WHERE sid = ?`, m.SID).Scan(new(int))
	switch {
	case err == nil:
		existed = true
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}
	_, err = db.Exec(`
		INSERT INTO messages (sid, from_number, to_number, body, date_sent, status, error_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sid) DO UPDATE SET
			body = CASE WHEN excluded.body != '' THEN excluded.body ELSE messages.body END,
			status = CASE WHEN excluded.status != '' THEN excluded.status ELSE messages.status END,
			error_code = excluded.error_code`,
		m.SID, m.From, m.To, m.Body, toMillis(m.DateSent), m.Status, m.ErrorCode, now)
	if err != nil {
		return false, err
	}
	return !existed, nil
}

// UpdateMessageStatus records a delivery status callback. It reports
// whether the message was known.
func (db *DB) UpdateMessageStatus(sid, status string, errorCode int) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET status = ?, error_code = ? WHERE sid = ?`, status, errorCode, sid)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetMessage returns a message by sid, or nil if it is unknown.
func (db *DB) GetMessage(sid string) (*stream.Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE sid = ?`, sid)
	m, _, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListThread returns the messages exchanged between active and counterparty,
// newest first, using keyset pagination by send time.
func (db *DB) ListThread(active, counterparty string, before time.Time, limit int) ([]stream.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeMs := toMillis(before)
	if beforeMs <= 0 {
		beforeMs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE ((from_number = ? AND to_number = ?) OR (from_number = ? AND to_number = ?))
			AND date_sent < ?
		ORDER BY date_sent DESC, id DESC
		LIMIT ?`, active, counterparty, counterparty, active, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []stream.Message
	for rows.Next() {
		m, _, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LatestMessageDate returns the send time of the newest message involving
// number, or the zero time when there is none.
func (db *DB) LatestMessageDate(number string) (time.Time, error) {
	var ms sql.NullInt64
	err := db.QueryRow(`SELECT MAX(date_sent) FROM messages WHERE from_number = ? OR to_number = ?`, number, number).Scan(&ms)
	if err != nil || !ms.Valid {
		return time.Time{}, err
	}
	return fromMillis(ms.Int64), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (stream.Message, int64, error) {
	var (
		m      stream.Message
		id     int64
		sentMs int64
	)
	if err := s.Scan(&id, &m.SID, &m.From, &m.To, &m.Body, &sentMs, &m.Status, &m.ErrorCode); err != nil {
		return stream.Message{}, 0, err
	}
	m.DateSent = fromMillis(sentMs)
	return m, id, nil
}
