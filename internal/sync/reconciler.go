package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/pokulabs/poku/internal/store"
	"github.com/pokulabs/poku/internal/stream"
	"go.uber.org/zap"
)

// Reconciler backfills the mirror from the provider's message log and keeps
// a checkpoint so later runs stop where the previous one caught up.
type Reconciler struct {
	db     *store.DB
	engine *Engine
	source stream.Source
	logger *zap.Logger
}

// NewReconciler creates a new reconciler reading from source.
func NewReconciler(db *store.DB, engine *Engine, source stream.Source, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, engine: engine, source: source, logger: logger}
}

func checkpointKey(number string) string { return "backfill:" + number }

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	return r.db.SetSyncState(key, value)
}

// GetCheckpoint retrieves a sync checkpoint value, or "" when unset.
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	return r.db.GetSyncState(key)
}

// Backfill copies both directions of number's log into the mirror, newest
// first, stopping at the checkpoint or after maxPages pages per direction
// (0 means no page limit). It returns the number of new messages.
func (r *Reconciler) Backfill(ctx context.Context, number string, maxPages int) (int, error) {
	var since time.Time
	if v, err := r.GetCheckpoint(checkpointKey(number)); err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	} else if v != "" {
		if since, err = time.Parse(time.RFC3339Nano, v); err != nil {
			r.logger.Warn("ignoring malformed checkpoint", zap.String("value", v), zap.Error(err))
			since = time.Time{}
		}
	}

	start := time.Now()
	total := 0
	for _, f := range []stream.Filter{{To: number}, {From: number}} {
		n, err := r.backfillDirection(ctx, f, since, maxPages)
		total += n
		if err != nil {
			return total, err
		}
	}

	latest, err := r.db.LatestMessageDate(number)
	if err != nil {
		return total, fmt.Errorf("latest message: %w", err)
	}
	if !latest.IsZero() {
		if err := r.UpdateCheckpoint(checkpointKey(number), latest.Format(time.RFC3339Nano)); err != nil {
			return total, fmt.Errorf("write checkpoint: %w", err)
		}
	}
	r.logger.Info("backfill finished",
		zap.String("number", number),
		zap.Int("messages", total),
		zap.Duration("took", time.Since(start)))
	return total, nil
}

func (r *Reconciler) backfillDirection(ctx context.Context, f stream.Filter, since time.Time, maxPages int) (int, error) {
	p, err := r.source.Open(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("open log: %w", err)
	}
	total := 0
	for pages := 1; ; pages++ {
		n, err := r.engine.IngestHistoryBatch(p.Items())
		if err != nil {
			return total, err
		}
		total += n
		items := p.Items()
		reached := len(items) > 0 && !since.IsZero() && stream.Tail(items).Before(since)
		if reached || !p.HasNext() || (maxPages > 0 && pages >= maxPages) {
			return total, nil
		}
		if p, err = p.Next(ctx); err != nil {
			return total, fmt.Errorf("next page: %w", err)
		}
	}
}
