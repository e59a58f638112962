package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pokulabs/poku/internal/chats"
)

// ErrUnknownSession is returned for tokens the registry does not hold.
var ErrUnknownSession = errors.New("api: unknown chat session")

// session is one chat listing. mu serializes calls against state.
type session struct {
	mu       sync.Mutex
	token    string
	number   string
	state    chats.State
	lastUsed time.Time
}

// Sessions keeps the pagination state of open chat listings, one per token.
// Opening a listing for an active number replaces any earlier listing of
// that number.
type Sessions struct {
	agg *chats.Aggregator

	mu       sync.Mutex
	byToken  map[string]*session
	byNumber map[string]string
}

func NewSessions(agg *chats.Aggregator) *Sessions {
	return &Sessions{
		agg:      agg,
		byToken:  make(map[string]*session),
		byNumber: make(map[string]string),
	}
}

// Open runs the initial load for number and returns the new session token.
func (s *Sessions) Open(ctx context.Context, number string) (string, *chats.Batch, error) {
	batch, err := s.agg.LoadInitial(ctx, number)
	if err != nil {
		return "", nil, err
	}
	sess := &session{
		token:    uuid.NewString(),
		number:   number,
		state:    batch.State,
		lastUsed: time.Now(),
	}

	s.mu.Lock()
	if old, ok := s.byNumber[number]; ok {
		delete(s.byToken, old)
	}
	s.byToken[sess.token] = sess
	s.byNumber[number] = sess.token
	s.mu.Unlock()

	return sess.token, batch, nil
}

// More continues the listing of token. The session keeps its previous state
// when the load fails.
func (s *Sessions) More(ctx context.Context, token string, existing []string, pageSize int) (*chats.Batch, error) {
	sess, err := s.get(token)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	batch, err := s.agg.LoadMore(ctx, sess.state, existing, pageSize)
	if err != nil {
		return nil, err
	}
	sess.state = batch.State
	sess.lastUsed = time.Now()
	return batch, nil
}

// Number returns the active number token belongs to.
func (s *Sessions) Number(token string) (string, error) {
	sess, err := s.get(token)
	if err != nil {
		return "", err
	}
	return sess.number, nil
}

// Close discards a session. Unknown tokens are ignored.
func (s *Sessions) Close(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byToken[token]; ok {
		delete(s.byToken, token)
		if s.byNumber[sess.number] == token {
			delete(s.byNumber, sess.number)
		}
	}
}

// Expire drops sessions idle for longer than ttl and returns how many.
func (s *Sessions) Expire(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	s.mu.Lock()
	var stale []*session
	for _, sess := range s.byToken {
		stale = append(stale, sess)
	}
	s.mu.Unlock()

	n := 0
	for _, sess := range stale {
		sess.mu.Lock()
		idle := sess.lastUsed.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			s.Close(sess.token)
			n++
		}
	}
	return n
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}

func (s *Sessions) get(token string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess, nil
}
