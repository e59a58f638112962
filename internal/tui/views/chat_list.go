package views

import (
	"time"

	"github.com/pokulabs/poku/internal/chats"
	"github.com/rivo/tview"
)

const loadMoreLabel = " ↓ load more"

// ChatList is the main chat list view (K9s-inspired table). When more chats
// are available its last row loads the next page.
type ChatList struct {
	*tview.Table
	theme      *Theme
	chats      []chats.ChatInfo
	hasMore    bool
	onOpen     func(c chats.ChatInfo)
	onLoadMore func()
}

// NewChatList creates a new chat list table.
func NewChatList(theme *Theme) *ChatList {
	cl := &ChatList{Table: tview.NewTable(), theme: theme}
	theme.styleTable(cl.Table, " Chats ")
	cl.SetSelectedFunc(func(row, _ int) { cl.activate(row) })
	return cl
}

func (cl *ChatList) activate(row int) {
	idx := row - 1
	switch {
	case idx >= 0 && idx < len(cl.chats):
		if cl.onOpen != nil {
			cl.onOpen(cl.chats[idx])
		}
	case idx == len(cl.chats) && cl.hasMore:
		if cl.onLoadMore != nil {
			cl.onLoadMore()
		}
	}
}

// SetOnOpen sets the callback when a chat row is chosen.
func (cl *ChatList) SetOnOpen(fn func(c chats.ChatInfo)) {
	cl.onOpen = fn
}

// SetOnLoadMore sets the callback when the load-more row is chosen.
func (cl *ChatList) SetOnLoadMore(fn func()) {
	cl.onLoadMore = fn
}

// Update refreshes the chat list with new data, keeping the selection on
// the same chat when it is still present.
func (cl *ChatList) Update(list []chats.ChatInfo, hasMore bool) {
	selected := cl.SelectedChatID()
	cl.chats = list
	cl.hasMore = hasMore
	cl.Clear()
	cl.theme.header(cl.Table, "  ", " CONTACT", " LAST MESSAGE", " TIME", " CLAIMED")

	row := 1
	for i, c := range list {
		row = i + 1
		mark := "  "
		markColor := cl.theme.FgColor
		switch {
		case c.IsFlagged:
			mark, markColor = " !", cl.theme.FlaggedColor
		case c.HasUnread:
			mark, markColor = " ●", cl.theme.UnreadColor
		}
		name := c.ContactNumber
		if c.EnrichedData != nil && c.EnrichedData.DisplayName != "" {
			name = c.EnrichedData.DisplayName
		}
		nameColor := cl.theme.FgColor
		if c.HasUnread {
			nameColor = cl.theme.UnreadColor
		}

		cl.SetCell(row, 0, tview.NewTableCell(mark).SetTextColor(markColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(name)).SetMaxWidth(28).SetExpansion(1).SetTextColor(nameColor))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.RecentMsgContent))).SetMaxWidth(48).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 3, tview.NewTableCell(" "+formatTime(c.RecentMsgDate)).SetMaxWidth(12).SetTextColor(cl.theme.DimColor))
		cl.SetCell(row, 4, tview.NewTableCell(" "+tview.Escape(c.ClaimedBy)).SetMaxWidth(16).SetTextColor(cl.theme.DimColor))
		if c.ChatID == selected {
			cl.Select(row, 0)
		}
	}
	if hasMore {
		cl.SetCell(len(list)+1, 1, tview.NewTableCell(loadMoreLabel).SetTextColor(cl.theme.MenuKeyColor))
	}
}

// SelectedChatID returns the id of the currently selected chat, or "" on
// the header or load-more row.
func (cl *ChatList) SelectedChatID() string {
	row, _ := cl.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(cl.chats) {
		return cl.chats[idx].ChatID
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
