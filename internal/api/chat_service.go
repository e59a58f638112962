package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pokulabs/poku/internal/bus"
	"github.com/pokulabs/poku/internal/chats"
	"github.com/pokulabs/poku/internal/status"
	"github.com/pokulabs/poku/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// DefaultPageSize is the number of chats LoadMoreChats returns when the
// request does not say.
const DefaultPageSize = 20

// Notifier is woken when a message is queued for sending.
type Notifier interface {
	Notify()
}

// Options carries the daemon settings ChatService needs.
type Options struct {
	Profile      string
	ActiveNumber string
	PageSize     int
}

// ChatService implements poku.v1.ChatService. Its methods return gRPC status
// errors; the HTTP API translates them.
type ChatService struct {
	opts      Options
	sessions  *Sessions
	db        *store.DB
	bus       *bus.Bus
	outbox    Notifier
	machine   *status.Machine
	logger    *zap.Logger
	startedAt time.Time
}

// NewChatService creates the service. outbox and machine may be nil.
func NewChatService(opts Options, sessions *Sessions, db *store.DB, b *bus.Bus, outbox Notifier, machine *status.Machine, logger *zap.Logger) *ChatService {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		opts:      opts,
		sessions:  sessions,
		db:        db,
		bus:       b,
		outbox:    outbox,
		machine:   machine,
		logger:    logger,
		startedAt: time.Now(),
	}
}

func (s *ChatService) number(n string) (string, error) {
	if n == "" {
		n = s.opts.ActiveNumber
	}
	if n == "" {
		return "", grpcstatus.Error(codes.InvalidArgument, "active number is required")
	}
	return n, nil
}

func (s *ChatService) LoadChats(ctx context.Context, req *LoadChatsRequest) (*ChatsResponse, error) {
	number, err := s.number(req.ActiveNumber)
	if err != nil {
		return nil, err
	}
	token, batch, err := s.sessions.Open(ctx, number)
	if err != nil {
		s.logger.Error("initial chat load failed", zap.String("active", number), zap.Error(err))
		return nil, grpcstatus.Errorf(codes.Unavailable, "load chats: %v", err)
	}
	return &ChatsResponse{
		SessionToken: token,
		ActiveNumber: number,
		Chats:        nonNil(batch.Chats),
		HasMore:      batch.HasMore,
	}, nil
}

func (s *ChatService) LoadMoreChats(ctx context.Context, req *LoadMoreChatsRequest) (*ChatsResponse, error) {
	size := req.PageSize
	if size <= 0 {
		size = s.opts.PageSize
	}
	batch, err := s.sessions.More(ctx, req.SessionToken, req.ExistingChatIDs, size)
	switch {
	case errors.Is(err, ErrUnknownSession):
		return nil, grpcstatus.Errorf(codes.NotFound, "session %q not found", req.SessionToken)
	case errors.Is(err, chats.ErrNotLoaded):
		return nil, grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case err != nil:
		s.logger.Error("load more chats failed", zap.String("session", req.SessionToken), zap.Error(err))
		return nil, grpcstatus.Errorf(codes.Unavailable, "load more chats: %v", err)
	}
	number, _ := s.sessions.Number(req.SessionToken)
	return &ChatsResponse{
		SessionToken: req.SessionToken,
		ActiveNumber: number,
		Chats:        nonNil(batch.Chats),
		HasMore:      batch.HasMore,
	}, nil
}

func (s *ChatService) MarkRead(ctx context.Context, req *MarkReadRequest) (*Ack, error) {
	if req.ChatID == "" || req.MsgID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id and msg_id are required")
	}
	if err := s.db.MarkRead(ctx, req.ChatID, req.MsgID); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "mark read: %v", err)
	}
	s.bus.Emit(bus.KindChatRead, bus.ChatEvent{ChatID: req.ChatID, MsgID: req.MsgID})
	return &Ack{OK: true}, nil
}

func (s *ChatService) FlagChat(ctx context.Context, req *FlagChatRequest) (*Ack, error) {
	if req.ChatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	if err := s.db.SetFlag(ctx, req.ChatID, req.Flagged, req.Reason, req.Message); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "flag chat: %v", err)
	}
	s.bus.Emit(bus.KindChatFlagged, bus.ChatEvent{ChatID: req.ChatID, Flagged: req.Flagged, Reason: req.Reason})
	return &Ack{OK: true}, nil
}

func (s *ChatService) ClaimChat(ctx context.Context, req *ClaimChatRequest) (*Ack, error) {
	if req.ChatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	if err := s.db.Claim(ctx, req.ChatID, req.ClaimedBy); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "claim chat: %v", err)
	}
	s.bus.Emit(bus.KindChatClaimed, bus.ChatEvent{ChatID: req.ChatID, ClaimedBy: req.ClaimedBy})
	return &Ack{OK: true}, nil
}

func (s *ChatService) LabelChat(ctx context.Context, req *LabelChatRequest) (*Ack, error) {
	if req.ChatID == "" || req.Label.ID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id and label.id are required")
	}
	var err error
	if req.Remove {
		err = s.db.RemoveLabel(ctx, req.ChatID, req.Label.ID)
	} else if err = s.db.UpsertLabel(ctx, req.Label); err == nil {
		err = s.db.AssignLabel(ctx, req.ChatID, req.Label.ID)
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "label chat: %v", err)
	}
	s.bus.Emit(bus.KindChatLabeled, bus.ChatEvent{ChatID: req.ChatID, LabelID: req.Label.ID})
	return &Ack{OK: true}, nil
}

func (s *ChatService) ListThread(_ context.Context, req *ListThreadRequest) (*ListThreadResponse, error) {
	number, err := s.number(req.ActiveNumber)
	if err != nil {
		return nil, err
	}
	if req.Counterparty == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "counterparty is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	var before time.Time
	if req.BeforeUnixMs > 0 {
		before = time.UnixMilli(req.BeforeUnixMs)
	}
	msgs, err := s.db.ListThread(number, req.Counterparty, before, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list thread: %v", err)
	}
	return &ListThreadResponse{Messages: msgs, HasMore: len(msgs) == limit}, nil
}

func (s *ChatService) SearchMessages(_ context.Context, req *SearchMessagesRequest) (*SearchMessagesResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	results, err := s.db.SearchMessages(req.Query, req.Number, req.Limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return &SearchMessagesResponse{Results: results}, nil
}

func (s *ChatService) SendText(_ context.Context, req *SendTextRequest) (*SendTextResponse, error) {
	from, err := s.number(req.From)
	if err != nil {
		return nil, err
	}
	if req.To == "" || req.Text == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "to and text are required")
	}
	id := req.ClientMsgID
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.db.QueueOutbox(id, from, req.To, req.Text); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "queue outbox: %v", err)
	}
	if s.outbox != nil {
		s.outbox.Notify()
	}
	return &SendTextResponse{ClientMsgID: id, Accepted: true}, nil
}

func (s *ChatService) GetStatus(_ context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	resp := &GetStatusResponse{
		Profile:      s.opts.Profile,
		Status:       string(status.Booting),
		ActiveNumber: s.opts.ActiveNumber,
		UptimeMs:     time.Since(s.startedAt).Milliseconds(),
		OpenSessions: s.sessions.Len(),
	}
	if s.machine != nil {
		state, reason, _ := s.machine.Snapshot()
		resp.Status = string(state)
		resp.StatusMessage = reason
	}
	if st, err := s.db.GetStats(s.opts.ActiveNumber); err == nil {
		resp.MessageCount = st.Messages
		resp.ChatCount = st.Chats
		resp.QueuedCount = st.Queued
	}
	return resp, nil
}

// EventSender is the server side of a WatchEvents stream.
type EventSender interface {
	Context() context.Context
	Send(*EventEnvelope) error
}

func (s *ChatService) WatchEvents(req *WatchEventsRequest, stream EventSender) error {
	ch, unsub := s.bus.Subscribe(req.Namespace, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if req.ActiveNumber != "" && !evt.Involves(req.ActiveNumber) {
				continue
			}
			env, err := s.Envelope(evt)
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// Envelope wraps a bus event for the wire.
func (s *ChatService) Envelope(evt bus.Event) (*EventEnvelope, error) {
	env := &EventEnvelope{
		EventID:          evt.ID,
		Profile:          s.opts.Profile,
		Kind:             evt.Kind,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
	}
	if evt.Payload != nil {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}

func nonNil(list []chats.ChatInfo) []chats.ChatInfo {
	if list == nil {
		return []chats.ChatInfo{}
	}
	return list
}
