package chats

import (
	"context"
	"strings"
	"time"

	"github.com/pokulabs/poku/internal/stream"
)

// Label is a tag assigned to a chat by an operator.
type Label struct {
	ID    string `json:"id"`
	Color string `json:"color"`
	Name  string `json:"name"`
}

// Enrichment is contact data attached by the backend.
type Enrichment struct {
	DisplayName string `json:"display_name,omitempty"`
	Card        string `json:"card,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ChatInfo is one conversation between the active number and a counterparty.
type ChatInfo struct {
	ChatID           string    `json:"chat_id"`
	ContactNumber    string    `json:"contact_number"`
	RecentMsgID      string    `json:"recent_msg_id"`
	RecentMsgDate    time.Time `json:"recent_msg_date"`
	RecentMsgContent string    `json:"recent_msg_content"`
	HasUnread        bool      `json:"has_unread"`

	IsDisabled     bool        `json:"is_disabled"`
	IsFlagged      bool        `json:"is_flagged"`
	FlaggedReason  string      `json:"flagged_reason,omitempty"`
	FlaggedMessage string      `json:"flagged_message,omitempty"`
	ClaimedBy      string      `json:"claimed_by,omitempty"`
	EnrichedData   *Enrichment `json:"enriched_data,omitempty"`
	Labels         []Label     `json:"labels,omitempty"`
}

// ChatMeta is the backend's record for a chat, keyed by ChatCode (== ChatID).
type ChatMeta struct {
	ChatCode       string      `json:"chatCode"`
	IsFlagged      bool        `json:"isFlagged"`
	FlaggedReason  string      `json:"flaggedReason,omitempty"`
	FlaggedMessage string      `json:"flaggedMessage,omitempty"`
	ClaimedBy      string      `json:"claimedBy,omitempty"`
	IsDisabled     bool        `json:"isDisabled,omitempty"`
	EnrichedData   *Enrichment `json:"enrichedData,omitempty"`
	Labels         []Label     `json:"labels,omitempty"`
}

// MetaQuery selects chat metadata. When both IsFlagged and IsClaimed are
// set, chats matching either are returned. A non-empty ActiveNumber limits
// the result to chat ids starting with it.
type MetaQuery struct {
	ChatsOfInterest []string
	ActiveNumber    string
	IsFlagged       bool
	IsClaimed       bool
}

// MetaLookup reads chat metadata of record.
type MetaLookup interface {
	ChatsMeta(ctx context.Context, q MetaQuery) ([]ChatMeta, error)
}

// ReadPositions reports the last message id a user has seen per chat.
type ReadPositions interface {
	ReadPosition(ctx context.Context, chatID string) (msgID string, ok bool, err error)
}

// ChatID pairs the active number with a counterparty. Both sides must use
// the same number formatting; no normalization is done.
func ChatID(activeNumber, counterparty string) string {
	return activeNumber + counterparty
}

// Counterparty returns the other party of m relative to activeNumber.
func Counterparty(activeNumber string, m stream.Message) string {
	if m.From == activeNumber {
		return m.To
	}
	return m.From
}

// SplitChatID returns the counterparty of a chat id that starts with
// activeNumber. A remainder starting with a digit continues a longer
// number, so the chat belongs to another active number.
func SplitChatID(activeNumber, chatID string) (string, bool) {
	cp, ok := strings.CutPrefix(chatID, activeNumber)
	if !ok || cp == "" || (cp[0] >= '0' && cp[0] <= '9') {
		return "", false
	}
	return cp, true
}

// Overlay copies backend attributes onto c. Identity and message fields
// are left untouched.
func (c *ChatInfo) Overlay(m ChatMeta) {
	c.IsDisabled = m.IsDisabled
	c.IsFlagged = m.IsFlagged
	c.FlaggedReason = m.FlaggedReason
	c.FlaggedMessage = m.FlaggedMessage
	c.ClaimedBy = m.ClaimedBy
	c.EnrichedData = m.EnrichedData
	c.Labels = m.Labels
}

// OverlayAll applies each meta record to the chat with the same id.
// Chats without a record are left as they are.
func OverlayAll(list []ChatInfo, metas []ChatMeta) {
	byCode := make(map[string]ChatMeta, len(metas))
	for _, m := range metas {
		byCode[m.ChatCode] = m
	}
	for i := range list {
		if m, ok := byCode[list[i].ChatID]; ok {
			list[i].Overlay(m)
		}
	}
}

func newChat(activeNumber string, m stream.Message) ChatInfo {
	cp := Counterparty(activeNumber, m)
	return ChatInfo{
		ChatID:           ChatID(activeNumber, cp),
		ContactNumber:    cp,
		RecentMsgID:      m.SID,
		RecentMsgDate:    m.DateSent,
		RecentMsgContent: m.Body,
	}
}
