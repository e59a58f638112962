package bus

import (
	"time"

	"github.com/pokulabs/poku/internal/stream"
)

// Event kinds. Subscribers match on prefixes such as "message." or "twilio.".
const (
	KindTwilioMessage = "twilio.message"
	KindTwilioStatus  = "twilio.status"

	KindMessageReceived   = "message.received"
	KindMessageStatus     = "message.status"
	KindMessageSent       = "message.sent"
	KindMessageSendFailed = "message.send_failed"

	KindChatRead    = "chat.read"
	KindChatFlagged = "chat.flagged"
	KindChatClaimed = "chat.claimed"
	KindChatLabeled = "chat.labeled"

	KindDaemonStatus = "daemon.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// MessageEvent carries a message that entered or changed in the mirror.
type MessageEvent struct {
	Message stream.Message `json:"message"`
	// ClientMsgID links an outbound message to the outbox entry that sent it.
	ClientMsgID string `json:"client_msg_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ChatEvent carries an operator or agent action on a chat.
type ChatEvent struct {
	ChatID    string `json:"chat_id"`
	MsgID     string `json:"msg_id,omitempty"`
	Flagged   bool   `json:"flagged,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ClaimedBy string `json:"claimed_by,omitempty"`
	LabelID   string `json:"label_id,omitempty"`
}

// StatusEvent carries a daemon state transition.
type StatusEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Involves reports whether evt concerns number: a message to or from it, or
// a chat whose id starts with it. Other events involve every number.
func (evt Event) Involves(number string) bool {
	switch p := evt.Payload.(type) {
	case MessageEvent:
		return p.Message.From == number || p.Message.To == number
	case ChatEvent:
		return len(p.ChatID) > len(number) && p.ChatID[:len(number)] == number
	default:
		return true
	}
}
