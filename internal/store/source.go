package store

import (
	"context"
	"fmt"
	"math"

	"github.com/pokulabs/poku/internal/stream"
)

// DefaultPageSize is used when a filter does not set a limit.
const DefaultPageSize = 50

// MessageSource serves the local mirror as a paginated message stream.
type MessageSource struct {
	db       *DB
	pageSize int
}

// NewMessageSource returns a stream.Source over db with the given page size.
func NewMessageSource(db *DB, pageSize int) *MessageSource {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MessageSource{db: db, pageSize: pageSize}
}

// Open returns the newest page of messages matching f.
func (s *MessageSource) Open(ctx context.Context, f stream.Filter) (stream.Page, error) {
	size := s.pageSize
	if f.Limit > 0 {
		size = f.Limit
	}
	return s.db.messagePage(ctx, f, size, math.MaxInt64, math.MaxInt64)
}

// messagePage is one keyset page: rows strictly below (beforeMs, beforeID)
// in (date_sent, id) order.
type messagePage struct {
	db      *DB
	filter  stream.Filter
	size    int
	items   []stream.Message
	lastMs  int64
	lastID  int64
	hasNext bool
}

func (p *messagePage) Items() []stream.Message { return p.items }

func (p *messagePage) HasNext() bool { return p.hasNext }

func (p *messagePage) Next(ctx context.Context) (stream.Page, error) {
	if !p.hasNext {
		return &messagePage{db: p.db, filter: p.filter, size: p.size}, nil
	}
	return p.db.messagePage(ctx, p.filter, p.size, p.lastMs, p.lastID)
}

func (db *DB) messagePage(ctx context.Context, f stream.Filter, size int, beforeMs, beforeID int64) (*messagePage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (? = '' OR from_number = ?)
			AND (? = '' OR to_number = ?)
			AND (date_sent < ? OR (date_sent = ? AND id < ?))
		ORDER BY date_sent DESC, id DESC
		LIMIT ?`,
		f.From, f.From, f.To, f.To, beforeMs, beforeMs, beforeID, size+1)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	p := &messagePage{db: db, filter: f, size: size}
	for rows.Next() {
		m, id, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(p.items) == size {
			p.hasNext = true
			break
		}
		p.items = append(p.items, m)
		p.lastMs, p.lastID = m.DateSent.UnixMilli(), id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// A limited filter asks for the newest messages only.
	if f.Limit > 0 {
		p.hasNext = false
	}
	return p, nil
}
