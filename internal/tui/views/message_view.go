package views

import (
	"fmt"

	"github.com/pokulabs/poku/internal/stream"
	"github.com/rivo/tview"
)

// MessageView displays the thread with one counterparty.
type MessageView struct {
	*tview.TextView
	theme *Theme
}

// NewMessageView creates a new message view.
func NewMessageView(theme *Theme) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).
		SetBorderColor(theme.BorderColor).
		SetTitle(" Messages ").
		SetTitleColor(theme.TitleColor)
	tv.SetBackgroundColor(theme.BgColor)

	return &MessageView{TextView: tv, theme: theme}
}

// SetChatName updates the title with the chat name.
func (mv *MessageView) SetChatName(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", tview.Escape(name)))
}

// Update refreshes the view. Messages come newest first; they are shown
// oldest first with the active number's own messages labelled "You".
func (mv *MessageView) Update(active string, msgs []stream.Message) {
	mv.Clear()

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		sender := m.From
		if m.From == active {
			sender = "You"
		}
		meta := formatTime(m.DateSent)
		if m.From == active && m.Status != "" {
			meta += " · " + m.Status
		}
		_, _ = fmt.Fprintf(mv, "[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			tview.Escape(sender), meta, tview.Escape(sanitizeForTerminal(m.Body)))
	}

	mv.ScrollToEnd()
}
