package views

import (
	"strings"
	"testing"
	"time"

	"github.com/pokulabs/poku/internal/chats"
	"github.com/pokulabs/poku/internal/stream"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"skin tone", "👍\U0001F3FB", "👍"},
		{"zwj", "a\u200db", "ab"},
		{"variation selector", "\u2764\ufe0f", "\u2764"},
		{"newlines", "one\r\ntwo", "one  two"},
		{"bell", "ding\a", "ding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeForTerminal(tt.in))
		})
	}
}

func sampleChats() []chats.ChatInfo {
	now := time.Now()
	return []chats.ChatInfo{
		{ChatID: "+1+2", ContactNumber: "+2", RecentMsgContent: "hi", RecentMsgDate: now, HasUnread: true},
		{ChatID: "+1+3", ContactNumber: "+3", RecentMsgContent: "yo", RecentMsgDate: now.Add(-48 * time.Hour), IsFlagged: true},
	}
}

func TestChatListLoadMoreRow(t *testing.T) {
	cl := NewChatList(DefaultTheme())
	loaded := 0
	cl.SetOnLoadMore(func() { loaded++ })
	var opened string
	cl.SetOnOpen(func(c chats.ChatInfo) { opened = c.ChatID })

	cl.Update(sampleChats(), true)
	assert.Equal(t, 4, cl.GetRowCount())
	assert.Equal(t, loadMoreLabel, cl.GetCell(3, 1).Text)

	cl.Select(3, 0)
	cl.activate(3)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, "", cl.SelectedChatID())

	cl.activate(2)
	assert.Equal(t, "+1+3", opened)

	cl.activate(0)
	assert.Equal(t, 1, loaded)

	cl.Update(sampleChats(), false)
	assert.Equal(t, 3, cl.GetRowCount())
}

func TestChatListKeepsSelection(t *testing.T) {
	cl := NewChatList(DefaultTheme())
	list := sampleChats()
	cl.Update(list, false)
	cl.Select(2, 0)

	reordered := []chats.ChatInfo{{ChatID: "+1+4", ContactNumber: "+4"}, list[0], list[1]}
	cl.Update(reordered, false)
	assert.Equal(t, "+1+3", cl.SelectedChatID())
}

func TestMessageViewOldestFirst(t *testing.T) {
	mv := NewMessageView(DefaultTheme())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mv.Update("+1", []stream.Message{
		{SID: "2", From: "+1", To: "+2", Body: "reply", DateSent: base.Add(time.Minute), Status: "delivered"},
		{SID: "1", From: "+2", To: "+1", Body: "question", DateSent: base},
	})
	text := mv.GetText(true)
	assert.Less(t, strings.Index(text, "question"), strings.Index(text, "reply"))
	assert.Contains(t, text, "You")
	assert.Contains(t, text, "delivered")
}


func TestStatusBarFlash(t *testing.T) {
	sb := NewStatusBar()
	sb.SetStatus("READY")

	sb.SetFlash("Message queued", false)
	assert.Contains(t, sb.GetText(false), "[yellow]Message queued[-]")

	sb.SetFlash("Send failed: boom", true)
	assert.Contains(t, sb.GetText(false), "[red]Send failed: boom[-]")

	sb.SetFlash("", false)
	assert.NotContains(t, sb.GetText(true), "failed")
}
