package api

import (
	"encoding/json"

	"github.com/pokulabs/poku/internal/chats"
	"github.com/pokulabs/poku/internal/store"
	"github.com/pokulabs/poku/internal/stream"
)

// Request and response messages of poku.v1.ChatService. They travel as JSON
// on both the gRPC socket and the HTTP API.

type LoadChatsRequest struct {
	ActiveNumber string `json:"active_number,omitempty"`
}

type LoadMoreChatsRequest struct {
	SessionToken    string   `json:"session_token"`
	ExistingChatIDs []string `json:"existing_chat_ids,omitempty"`
	PageSize        int      `json:"page_size,omitempty"`
}

type ChatsResponse struct {
	SessionToken string           `json:"session_token"`
	ActiveNumber string           `json:"active_number"`
	Chats        []chats.ChatInfo `json:"chats"`
	HasMore      bool             `json:"has_more"`
}

type MarkReadRequest struct {
	ChatID string `json:"chat_id"`
	MsgID  string `json:"msg_id"`
}

type FlagChatRequest struct {
	ChatID  string `json:"chat_id"`
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

type ClaimChatRequest struct {
	ChatID    string `json:"chat_id"`
	ClaimedBy string `json:"claimed_by"`
}

type LabelChatRequest struct {
	ChatID string      `json:"chat_id"`
	Label  chats.Label `json:"label"`
	Remove bool        `json:"remove,omitempty"`
}

type Ack struct {
	OK bool `json:"ok"`
}

type ListThreadRequest struct {
	ActiveNumber string `json:"active_number,omitempty"`
	Counterparty string `json:"counterparty"`
	BeforeUnixMs int64  `json:"before_unix_ms,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

type ListThreadResponse struct {
	Messages []stream.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

type SearchMessagesRequest struct {
	Query  string `json:"query"`
	Number string `json:"number,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type SearchMessagesResponse struct {
	Results []store.SearchResult `json:"results"`
}

type SendTextRequest struct {
	ClientMsgID string `json:"client_msg_id,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to"`
	Text        string `json:"text"`
}

type SendTextResponse struct {
	ClientMsgID string `json:"client_msg_id"`
	Accepted    bool   `json:"accepted"`
}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	Profile       string `json:"profile"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`
	ActiveNumber  string `json:"active_number"`
	UptimeMs      int64  `json:"uptime_ms"`
	MessageCount  int64  `json:"message_count"`
	ChatCount     int64  `json:"chat_count"`
	QueuedCount   int64  `json:"queued_count"`
	OpenSessions  int    `json:"open_sessions"`
}

type WatchEventsRequest struct {
	ActiveNumber string `json:"active_number,omitempty"`
	// Namespace is a kind prefix such as "message."; empty means all events.
	Namespace string `json:"namespace,omitempty"`
}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	Profile          string          `json:"profile"`
	Kind             string          `json:"kind"`
	OccurredAtUnixMs int64           `json:"occurred_at_unix_ms"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
