package chats

import (
	"context"
	"sync"
)

// MemoryReadPositions is an in-memory ReadPositions.
type MemoryReadPositions struct {
	mu  sync.RWMutex
	pos map[string]string
}

// NewMemoryReadPositions creates an empty store.
func NewMemoryReadPositions() *MemoryReadPositions {
	return &MemoryReadPositions{pos: make(map[string]string)}
}

func (m *MemoryReadPositions) ReadPosition(_ context.Context, chatID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pos[chatID]
	return id, ok, nil
}

// Set records msgID as the last seen message of chatID.
func (m *MemoryReadPositions) Set(chatID, msgID string) {
	m.mu.Lock()
	m.pos[chatID] = msgID
	m.mu.Unlock()
}
