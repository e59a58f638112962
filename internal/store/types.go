package store

import (
	"time"

	"github.com/pokulabs/poku/internal/stream"
)

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	From         string
	To           string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerSID    string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message stream.Message
	Snippet string
}

// Stats summarizes the mirror.
type Stats struct {
	Messages int64
	Chats    int64
	Queued   int64
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
