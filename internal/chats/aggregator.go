package chats

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/pokulabs/poku/internal/metrics"
	"github.com/pokulabs/poku/internal/stream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotLoaded is returned by LoadMore when it is given a State that did
// not come from LoadInitial.
var ErrNotLoaded = errors.New("chats: load more called before initial load")

// State is the pagination state of one chat listing. It is a value: each
// call takes the previous State and returns the next one, and a State is
// never modified after it is returned.
type State struct {
	active    string
	inbound   stream.Page
	outbound  stream.Page
	watermark time.Time
	// atMark holds the ids of messages sent exactly at watermark that have
	// been scanned. Messages newer than watermark have all been scanned.
	atMark  map[string]struct{}
	drained bool
	emitted map[string]struct{}
	// barren holds priority chat ids that resolved to no messages.
	barren map[string]struct{}
}

// ActiveNumber returns the number this listing belongs to.
func (s State) ActiveNumber() string { return s.active }

// Watermark returns the send time down to which messages have been folded
// into chats. It never increases between calls.
func (s State) Watermark() time.Time { return s.watermark }

// Loaded reports whether s came from LoadInitial.
func (s State) Loaded() bool {
	return s.active != "" && s.inbound != nil && s.outbound != nil
}

// Emitted reports whether chatID was returned by any call of this listing.
func (s State) Emitted(chatID string) bool {
	_, ok := s.emitted[chatID]
	return ok
}

// HasMore reports whether another LoadMore can surface further chats.
func (s State) HasMore() bool {
	if !s.Loaded() || s.drained {
		return false
	}
	if s.inbound.HasNext() || s.outbound.HasNext() {
		return true
	}
	for _, p := range []stream.Page{s.inbound, s.outbound} {
		for _, m := range stream.Between(p.Items(), time.Time{}, s.watermark) {
			if s.scanned(m) {
				continue
			}
			if !s.Emitted(ChatID(s.active, Counterparty(s.active, m))) {
				return true
			}
		}
	}
	return false
}

func (s State) clone() State {
	s.emitted = cloneSet(s.emitted)
	s.atMark = cloneSet(s.atMark)
	s.barren = cloneSet(s.barren)
	return s
}

func cloneSet(m map[string]struct{}) map[string]struct{} {
	if m == nil {
		return make(map[string]struct{})
	}
	return maps.Clone(m)
}

// scanned reports whether m lies in the part of the listing already walked.
func (s State) scanned(m stream.Message) bool {
	if s.watermark.IsZero() {
		return false
	}
	if m.DateSent.After(s.watermark) {
		return true
	}
	if m.DateSent.Equal(s.watermark) {
		_, ok := s.atMark[m.SID]
		return ok
	}
	return false
}

// consumed reports whether every item of a loaded page has been scanned,
// so the page can be left for the next one.
func (s State) consumed(items []stream.Message) bool {
	for _, m := range items {
		if !s.scanned(m) {
			return false
		}
	}
	return true
}

// mark moves the watermark to w after the messages in visited have been
// scanned. Ids scanned at an unchanged watermark are kept.
func (s State) mark(w time.Time, visited []stream.Message) State {
	if !w.Equal(s.watermark) {
		s.atMark = make(map[string]struct{})
	}
	s.watermark = w
	for _, m := range visited {
		if m.DateSent.Equal(w) {
			s.atMark[m.SID] = struct{}{}
		}
	}
	return s
}

// floor is the lowest send time both listings cover. A side without a next
// page has nothing older left to fetch and imposes no bound.
func (s State) floor() time.Time {
	var in, out []stream.Message
	if s.inbound.HasNext() {
		in = s.inbound.Items()
	}
	if s.outbound.HasNext() {
		out = s.outbound.Items()
	}
	return stream.Watermark(in, out)
}

// Batch is the result of one load.
type Batch struct {
	Chats   []ChatInfo
	State   State
	HasMore bool
}

// Aggregator turns the inbound and outbound message listings of an active
// number into one row per counterparty.
//
// Calls against one State must not overlap; the caller serializes them.
type Aggregator struct {
	source  stream.Source
	reads   ReadPositions
	meta    MetaLookup
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAggregator creates an aggregator. meta may be nil, in which case no
// enrichment or priority batch is done.
func NewAggregator(source stream.Source, reads ReadPositions, meta MetaLookup, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		source:  source,
		reads:   reads,
		meta:    meta,
		metrics: m,
		logger:  logger,
	}
}

// LoadInitial opens both listings for activeNumber and returns the chats
// found in the span they both cover.
func (a *Aggregator) LoadInitial(ctx context.Context, activeNumber string) (*Batch, error) {
	if activeNumber == "" {
		return nil, errors.New("chats: active number is required")
	}

	var in, out stream.Page
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := a.open(gctx, "inbound", stream.Filter{To: activeNumber})
		in = p
		return err
	})
	g.Go(func() error {
		p, err := a.open(gctx, "outbound", stream.Filter{From: activeNumber})
		out = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st, err := a.fill(ctx, State{active: activeNumber, inbound: in, outbound: out}.clone())
	if err != nil {
		return nil, err
	}
	floor := st.floor()
	window := stream.Merge(st.inbound.Items(), st.outbound.Items(), floor)
	known := make(map[string]struct{})
	found, st := a.scan(st, window, known, -1)
	st = a.settle(st, floor, window)

	priority, err := a.priority(ctx, &st, known)
	if err != nil {
		return nil, err
	}

	a.finish(ctx, found, priority)
	a.metrics.ChatLoaded("initial", len(found))
	a.metrics.ChatLoaded("priority", len(priority))
	a.logger.Debug("initial chats loaded",
		zap.String("active", activeNumber),
		zap.Int("priority", len(priority)),
		zap.Int("chats", len(found)),
		zap.Time("watermark", st.watermark))

	return &Batch{Chats: append(priority, found...), State: st, HasMore: st.HasMore()}, nil
}

// LoadMore continues the listing described by prev and returns up to
// pageSize chats that are neither in existing nor returned before.
// Chats that are flagged or claimed in the backend and not yet known are
// resolved first and count against pageSize. LoadInitial does the same,
// so a chat flagged later in the session surfaces on the next call.
func (a *Aggregator) LoadMore(ctx context.Context, prev State, existing []string, pageSize int) (*Batch, error) {
	if !prev.Loaded() {
		return nil, ErrNotLoaded
	}
	st := prev.clone()

	known := make(map[string]struct{}, len(existing)+len(st.emitted))
	for _, id := range existing {
		known[id] = struct{}{}
	}
	maps.Copy(known, st.emitted)

	priority, err := a.priority(ctx, &st, known)
	if err != nil {
		return nil, err
	}

	budget := pageSize - len(priority)
	var found []ChatInfo
	for !st.drained && len(found) < budget {
		st, err = a.advance(ctx, st)
		if err != nil {
			return nil, err
		}
		floor := st.floor()
		window := stream.Merge(
			stream.Between(st.inbound.Items(), floor, st.watermark),
			stream.Between(st.outbound.Items(), floor, st.watermark),
			floor,
		)
		var batch []ChatInfo
		batch, st = a.scan(st, window, known, budget-len(found))
		found = append(found, batch...)
		if len(found) >= budget {
			break
		}
		st = a.settle(st, floor, window)
	}

	a.finish(ctx, found, priority)
	a.metrics.ChatLoaded("priority", len(priority))
	a.metrics.ChatLoaded("more", len(found))
	a.logger.Debug("more chats loaded",
		zap.String("active", st.active),
		zap.Int("priority", len(priority)),
		zap.Int("chats", len(found)),
		zap.Time("watermark", st.watermark))

	return &Batch{Chats: append(priority, found...), State: st, HasMore: st.HasMore()}, nil
}

// scan walks window in order, skipping messages already scanned, and
// starts a chat for every counterparty not in known. With limit >= 0 it
// stops once limit chats are found and rewinds the watermark to the last
// message it looked at, remembering which messages at that instant are done.
func (a *Aggregator) scan(st State, window []stream.Message, known map[string]struct{}, limit int) ([]ChatInfo, State) {
	var (
		found   []ChatInfo
		visited []stream.Message
	)
	for _, m := range window {
		if limit >= 0 && len(found) >= limit {
			break
		}
		if st.scanned(m) {
			continue
		}
		visited = append(visited, m)
		id := ChatID(st.active, Counterparty(st.active, m))
		if _, ok := known[id]; ok {
			continue
		}
		known[id] = struct{}{}
		st.emitted[id] = struct{}{}
		found = append(found, newChat(st.active, m))
	}
	if limit >= 0 && len(found) >= limit && len(visited) > 0 {
		st = st.mark(visited[len(visited)-1].DateSent, visited)
	}
	return found, st
}

// settle records that window, everything down to floor, has been scanned.
// A zero floor means both listings are exhausted.
func (a *Aggregator) settle(st State, floor time.Time, window []stream.Message) State {
	if floor.IsZero() {
		st.drained = true
		return st
	}
	return st.mark(floor, window)
}

// advance moves each side whose loaded page lies entirely at or above the
// watermark to its next page. Both fetches run concurrently.
func (a *Aggregator) advance(ctx context.Context, st State) (State, error) {
	in, out := st.inbound, st.outbound
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := a.pageDown(gctx, "inbound", in, st)
		in = p
		return err
	})
	g.Go(func() error {
		p, err := a.pageDown(gctx, "outbound", out, st)
		out = p
		return err
	})
	if err := g.Wait(); err != nil {
		return st, err
	}
	st.inbound, st.outbound = in, out
	return st, nil
}

// pageDown moves p past pages whose items have all been scanned.
func (a *Aggregator) pageDown(ctx context.Context, direction string, p stream.Page, st State) (stream.Page, error) {
	for st.consumed(p.Items()) && p.HasNext() {
		next, err := p.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("next %s page: %w", direction, err)
		}
		a.metrics.PageFetched(direction)
		p = next
	}
	return p, nil
}

// fill pages a freshly opened listing past empty leading pages so the floor
// reflects real items.
func (a *Aggregator) fill(ctx context.Context, st State) (State, error) {
	var err error
	if st.inbound, err = a.pageDown(ctx, "inbound", st.inbound, st); err != nil {
		return st, err
	}
	if st.outbound, err = a.pageDown(ctx, "outbound", st.outbound, st); err != nil {
		return st, err
	}
	return st, nil
}

func (a *Aggregator) open(ctx context.Context, direction string, f stream.Filter) (stream.Page, error) {
	p, err := a.source.Open(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("open %s messages: %w", direction, err)
	}
	a.metrics.PageFetched(direction)
	return p, nil
}
