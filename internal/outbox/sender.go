package outbox

import (
	"context"
	"time"

	"github.com/pokulabs/poku/internal/bus"
	"github.com/pokulabs/poku/internal/metrics"
	"github.com/pokulabs/poku/internal/store"
	"github.com/pokulabs/poku/internal/stream"
	"go.uber.org/zap"
)

// MessageSender delivers one message through the provider.
type MessageSender interface {
	SendMessage(ctx context.Context, from, to, body string) (stream.Message, error)
}

// Sender drains the outbox and sends messages through the provider.
type Sender struct {
	db      *store.DB
	sender  MessageSender
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	wake    chan struct{}
	cancel  context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender MessageSender, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:      db,
		sender:  sender,
		bus:     b,
		metrics: m,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// Start begins polling the outbox for pending messages. Entries a previous
// run left in 'sending' are queued again first.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueSending(); err != nil {
		s.logger.Error("failed to requeue outbox", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Notify wakes the loop so a freshly queued message goes out without
// waiting for the next tick.
func (s *Sender) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-s.wake:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		sent, err := s.sender.SendMessage(ctx, entry.From, entry.To, entry.Body)
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			s.metrics.Sent("failed")
			s.bus.Emit(bus.KindMessageSendFailed, bus.MessageEvent{
				Message:     stream.Message{From: entry.From, To: entry.To, Body: entry.Body, Status: "failed"},
				ClientMsgID: entry.ClientMsgID,
				Error:       err.Error(),
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, sent.SID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		if _, err := s.db.UpsertMessage(sent); err != nil {
			s.logger.Error("failed to record sent message", zap.Error(err), zap.String("sid", sent.SID))
		}
		s.metrics.Sent("ok")

		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("sid", sent.SID))
		s.bus.Emit(bus.KindMessageSent, bus.MessageEvent{Message: sent, ClientMsgID: entry.ClientMsgID})
	}
}
