package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pokulabs/poku/internal/chats"
)

// SetFlag flags or unflags a chat for attention.
func (db *DB) SetFlag(ctx context.Context, chatCode string, flagged bool, reason, message string) error {
	if !flagged {
		reason, message = "", ""
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_meta (chat_code, is_flagged, flagged_reason, flagged_message, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_code) DO UPDATE SET
			is_flagged = excluded.is_flagged,
			flagged_reason = excluded.flagged_reason,
			flagged_message = excluded.flagged_message,
			updated_at = excluded.updated_at`,
		chatCode, flagged, reason, message, time.Now().UnixMilli())
	return err
}

// Claim assigns a chat to an operator. An empty claimedBy releases it.
func (db *DB) Claim(ctx context.Context, chatCode, claimedBy string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_meta (chat_code, claimed_by, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_code) DO UPDATE SET claimed_by = excluded.claimed_by, updated_at = excluded.updated_at`,
		chatCode, claimedBy, time.Now().UnixMilli())
	return err
}

// SetDisabled marks a chat as disabled.
func (db *DB) SetDisabled(ctx context.Context, chatCode string, disabled bool) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_meta (chat_code, is_disabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_code) DO UPDATE SET is_disabled = excluded.is_disabled, updated_at = excluded.updated_at`,
		chatCode, disabled, time.Now().UnixMilli())
	return err
}

// SetEnrichment stores contact data for a chat.
func (db *DB) SetEnrichment(ctx context.Context, chatCode string, e chats.Enrichment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_meta (chat_code, display_name, card, url, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_code) DO UPDATE SET
			display_name = excluded.display_name,
			card = excluded.card,
			url = excluded.url,
			updated_at = excluded.updated_at`,
		chatCode, e.DisplayName, e.Card, e.URL, time.Now().UnixMilli())
	return err
}

// UpsertLabel creates or renames a label.
func (db *DB) UpsertLabel(ctx context.Context, l chats.Label) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO labels (id, name, color) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, color = excluded.color`,
		l.ID, l.Name, l.Color)
	return err
}

// AssignLabel attaches a label to a chat.
func (db *DB) AssignLabel(ctx context.Context, chatCode, labelID string) error {
	_, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO chat_labels (chat_code, label_id) VALUES (?, ?)`, chatCode, labelID)
	return err
}

// RemoveLabel detaches a label from a chat.
func (db *DB) RemoveLabel(ctx context.Context, chatCode, labelID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM chat_labels WHERE chat_code = ? AND label_id = ?`, chatCode, labelID)
	return err
}

// ChatsMeta returns the locally kept metadata matching q. It lets the mirror
// stand in for the backend.
func (db *DB) ChatsMeta(ctx context.Context, q chats.MetaQuery) ([]chats.ChatMeta, error) {
	var (
		where []string
		args  []any
	)
	if len(q.ChatsOfInterest) > 0 {
		where = append(where, "chat_code IN ("+placeholders(len(q.ChatsOfInterest))+")")
		for _, c := range q.ChatsOfInterest {
			args = append(args, c)
		}
	}
	if q.ActiveNumber != "" {
		where = append(where, "substr(chat_code, 1, ?) = ?")
		args = append(args, len(q.ActiveNumber), q.ActiveNumber)
	}
	var either []string
	if q.IsFlagged {
		either = append(either, "is_flagged = 1")
	}
	if q.IsClaimed {
		either = append(either, "claimed_by != ''")
	}
	if len(either) > 0 {
		where = append(where, "("+strings.Join(either, " OR ")+")")
	}

	query := `SELECT chat_code, is_flagged, flagged_reason, flagged_message, claimed_by, is_disabled, display_name, card, url FROM chat_meta`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, chat_code"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat meta: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		metas []chats.ChatMeta
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			m chats.ChatMeta
			e chats.Enrichment
		)
		if err := rows.Scan(&m.ChatCode, &m.IsFlagged, &m.FlaggedReason, &m.FlaggedMessage, &m.ClaimedBy, &m.IsDisabled, &e.DisplayName, &e.Card, &e.URL); err != nil {
			return nil, err
		}
		if e != (chats.Enrichment{}) {
			m.EnrichedData = &e
		}
		index[m.ChatCode] = len(metas)
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := db.attachLabels(ctx, metas, index); err != nil {
		return nil, err
	}
	return metas, nil
}

func (db *DB) attachLabels(ctx context.Context, metas []chats.ChatMeta, index map[string]int) error {
	if len(metas) == 0 {
		return nil
	}
	args := make([]any, len(metas))
	for i, m := range metas {
		args[i] = m.ChatCode
	}
	rows, err := db.QueryContext(ctx, `
		SELECT cl.chat_code, l.id, l.name, l.color
		FROM chat_labels cl JOIN labels l ON l.id = cl.label_id
		WHERE cl.chat_code IN (`+placeholders(len(args))+`)
		ORDER BY l.name`, args...)
	if err != nil {
		return fmt.Errorf("query chat labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			code string
			l    chats.Label
		)
		if err := rows.Scan(&code, &l.ID, &l.Name, &l.Color); err != nil {
			return err
		}
		i := index[code]
		metas[i].Labels = append(metas[i].Labels, l)
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
