package chats

import (
	"context"
	"fmt"
	"time"

	"github.com/pokulabs/poku/internal/stream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// priority resolves backend flagged or claimed chats of st's active number
// that are not in known to full chats, and records them as known and
// emitted. Chats found to have no messages are remembered in st and not
// looked up again. A failed metadata lookup yields no priority chats; a
// failed message lookup is returned.
func (a *Aggregator) priority(ctx context.Context, st *State, known map[string]struct{}) ([]ChatInfo, error) {
	if a.meta == nil {
		return nil, nil
	}
	metas, err := a.meta.ChatsMeta(ctx, MetaQuery{ActiveNumber: st.active, IsFlagged: true, IsClaimed: true})
	if err != nil {
		a.metrics.EnrichmentFailed()
		a.logger.Warn("priority chat lookup failed", zap.String("active", st.active), zap.Error(err))
		return nil, nil
	}

	var out []ChatInfo
	for _, m := range metas {
		if !m.IsFlagged && m.ClaimedBy == "" {
			continue
		}
		if _, ok := known[m.ChatCode]; ok {
			continue
		}
		if _, ok := st.barren[m.ChatCode]; ok {
			continue
		}
		cp, ok := SplitChatID(st.active, m.ChatCode)
		if !ok {
			continue
		}
		latest, ok, err := a.latest(ctx, st.active, cp)
		if err != nil {
			return nil, err
		}
		if !ok {
			a.logger.Debug("priority chat has no messages", zap.String("chat_id", m.ChatCode))
			st.barren[m.ChatCode] = struct{}{}
			continue
		}
		c := newChat(st.active, latest)
		c.Overlay(m)
		out = append(out, c)
		known[c.ChatID] = struct{}{}
		st.emitted[c.ChatID] = struct{}{}
	}
	return out, nil
}

// latest returns the newest message exchanged between active and cp.
func (a *Aggregator) latest(ctx context.Context, active, cp string) (stream.Message, bool, error) {
	var in, out []stream.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := a.source.Open(gctx, stream.Filter{From: cp, To: active, Limit: 1})
		if err != nil {
			return fmt.Errorf("open inbound messages from %s: %w", cp, err)
		}
		in = p.Items()
		return nil
	})
	g.Go(func() error {
		p, err := a.source.Open(gctx, stream.Filter{From: active, To: cp, Limit: 1})
		if err != nil {
			return fmt.Errorf("open outbound messages to %s: %w", cp, err)
		}
		out = p.Items()
		return nil
	})
	if err := g.Wait(); err != nil {
		return stream.Message{}, false, err
	}
	merged := stream.Merge(in, out, time.Time{})
	if len(merged) == 0 {
		return stream.Message{}, false, nil
	}
	return merged[0], true, nil
}

// finish derives unread flags for every chat and overlays backend metadata
// onto the stream-derived ones. Metadata is best effort: on failure the
// chats are returned as they are.
func (a *Aggregator) finish(ctx context.Context, found, priority []ChatInfo) {
	a.markUnread(ctx, found)
	a.markUnread(ctx, priority)

	if a.meta == nil || len(found) == 0 {
		return
	}
	ids := make([]string, len(found))
	for i, c := range found {
		ids[i] = c.ChatID
	}
	metas, err := a.meta.ChatsMeta(ctx, MetaQuery{ChatsOfInterest: ids})
	if err != nil {
		a.metrics.EnrichmentFailed()
		a.logger.Warn("chat enrichment failed", zap.Int("chats", len(ids)), zap.Error(err))
		return
	}
	OverlayAll(found, metas)
}

func (a *Aggregator) markUnread(ctx context.Context, list []ChatInfo) {
	for i := range list {
		list[i].HasUnread = Unread(ctx, a.reads, list[i], a.logger)
	}
}

// Unread reports whether c's newest message differs from the last one seen.
// A chat without a read position is unread.
func Unread(ctx context.Context, reads ReadPositions, c ChatInfo, logger *zap.Logger) bool {
	if reads == nil {
		return true
	}
	seen, ok, err := reads.ReadPosition(ctx, c.ChatID)
	if err != nil {
		if logger != nil {
			logger.Warn("read position lookup failed", zap.String("chat_id", c.ChatID), zap.Error(err))
		}
		return true
	}
	return !ok || seen != c.RecentMsgID
}
