package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/pokulabs/poku/internal/bus"
	"github.com/pokulabs/poku/internal/metrics"
	"github.com/pokulabs/poku/internal/store"
	"github.com/pokulabs/poku/internal/stream"
	"github.com/pokulabs/poku/internal/twilio"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of messages into the store.
// It subscribes to "twilio.*" events on the bus and processes them.
type Engine struct {
	db      *store.DB
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Start subscribes to webhook events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("twilio.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindTwilioMessage:
		msg, ok := evt.Payload.(stream.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg, "webhook"); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("sid", msg.SID))
		}
	case bus.KindTwilioStatus:
		u, ok := evt.Payload.(twilio.StatusUpdate)
		if !ok {
			return
		}
		if err := e.ApplyStatus(u); err != nil {
			e.logger.Error("failed to apply status", zap.Error(err), zap.String("sid", u.SID))
		}
	}
}

// IngestMessage writes a single message into the store (idempotent) and
// announces it when it is new.
func (e *Engine) IngestMessage(msg stream.Message, origin string) error {
	created, err := e.db.UpsertMessage(msg)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	if !created {
		return nil
	}
	e.metrics.Ingested(origin)
	e.bus.Emit(bus.KindMessageReceived, bus.MessageEvent{Message: msg})
	return nil
}

// ApplyStatus records a delivery status callback. Callbacks for messages
// the mirror has not seen are logged and dropped.
func (e *Engine) ApplyStatus(u twilio.StatusUpdate) error {
	ok, err := e.db.UpdateMessageStatus(u.SID, u.Status, u.ErrorCode)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if !ok {
		e.logger.Debug("status for unknown message", zap.String("sid", u.SID), zap.String("status", u.Status))
		return nil
	}
	msg, err := e.db.GetMessage(u.SID)
	if err != nil || msg == nil {
		return fmt.Errorf("reload message: %w", err)
	}
	e.bus.Emit(bus.KindMessageStatus, bus.MessageEvent{Message: *msg})
	return nil
}

// IngestHistoryBatch writes a batch of history messages in a transaction.
// It returns the number of messages that were new.
func (e *Engine) IngestHistoryBatch(msgs []stream.Message) (int, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	added := 0
	for _, m := range msgs {
		res, err := tx.Exec(`
			INSERT INTO messages (sid, from_number, to_number, body, date_sent, status, error_code, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(sid) DO NOTHING`,
			m.SID, m.From, m.To, m.Body, m.DateSent.UnixMilli(), m.Status, m.ErrorCode, now)
		if err != nil {
			return 0, fmt.Errorf("insert message in batch: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	for range added {
		e.metrics.Ingested("backfill")
	}
	return added, nil
}
