package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pokulabs/poku/internal/api"
	"github.com/pokulabs/poku/internal/bus"
	"go.uber.org/zap"
)

const (
	// SubjectPrefix prefixes every event subject, e.g. poku.message.received.
	SubjectPrefix = "poku."
	// SubjectAgentFlag carries escalations from external agents.
	SubjectAgentFlag = "poku.agent.flag"
)

// AgentFlag asks for a chat to be flagged for human attention.
type AgentFlag struct {
	ChatID  string `json:"chat_id"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
	// Flagged defaults to true; false clears an earlier flag.
	Flagged *bool `json:"flagged,omitempty"`
}

// Publisher is the subset of *nats.Conn the relay writes to.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Service is the part of the chat service the relay drives.
type Service interface {
	Envelope(evt bus.Event) (*api.EventEnvelope, error)
	FlagChat(ctx context.Context, req *api.FlagChatRequest) (*api.Ack, error)
}

// Connect dials NATS, retrying in the background while the server is away.
func Connect(url, token string, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("pokud"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// Relay mirrors bus events onto NATS and feeds agent escalations back in.
type Relay struct {
	pub    Publisher
	bus    *bus.Bus
	svc    Service
	logger *zap.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	unsub  func()
	stop   chan struct{}
	done   chan struct{}
}

func New(pub Publisher, b *bus.Bus, svc Service, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{pub: pub, bus: b, svc: svc, logger: logger}
}

// Subject returns the NATS subject an event of kind is published on.
func Subject(kind string) string { return SubjectPrefix + kind }

// Start begins forwarding bus events. Raw provider events are not relayed.
func (r *Relay) Start() {
	ch, unsub := r.bus.Subscribe("", 256)
	r.unsub = unsub
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		for {
			select {
			case evt := <-ch:
				if strings.HasPrefix(evt.Kind, "twilio.") {
					continue
				}
				if err := r.forward(evt); err != nil {
					r.logger.Warn("relay publish failed", zap.String("kind", evt.Kind), zap.Error(err))
				}
			case <-r.stop:
				return
			}
		}
	}()
	r.logger.Info("event relay started")
}

// Stop ends forwarding and drops NATS subscriptions.
func (r *Relay) Stop() {
	if r.unsub != nil {
		r.unsub()
		close(r.stop)
		<-r.done
		r.unsub = nil
	}
	r.mu.Lock()
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
	r.mu.Unlock()
	r.logger.Info("event relay stopped")
}

func (r *Relay) forward(evt bus.Event) error {
	env, err := r.svc.Envelope(evt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.pub.Publish(Subject(evt.Kind), data)
}

// Listen subscribes to agent escalations on nc.
func (r *Relay) Listen(nc *nats.Conn) error {
	sub, err := nc.Subscribe(SubjectAgentFlag, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.HandleFlag(ctx, msg.Data); err != nil {
			r.logger.Warn("agent flag rejected", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectAgentFlag, err)
	}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	r.logger.Info("subscribed", zap.String("subject", SubjectAgentFlag))
	return nil
}

// HandleFlag applies one agent escalation.
func (r *Relay) HandleFlag(ctx context.Context, data []byte) error {
	var f AgentFlag
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse agent flag: %w", err)
	}
	if f.ChatID == "" {
		return errors.New("agent flag without chat_id")
	}
	flagged := true
	if f.Flagged != nil {
		flagged = *f.Flagged
	}
	_, err := r.svc.FlagChat(ctx, &api.FlagChatRequest{
		ChatID:  f.ChatID,
		Flagged: flagged,
		Reason:  f.Reason,
		Message: f.Message,
	})
	if err != nil {
		return err
	}
	r.logger.Info("chat flagged by agent", zap.String("chat_id", f.ChatID), zap.Bool("flagged", flagged))
	return nil
}
