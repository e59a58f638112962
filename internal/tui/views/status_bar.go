package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the profile, daemon state and transient messages.
type StatusBar struct {
	*tview.TextView
	profile string
	number  string
	status  string
	chats   int
	flash   string
	failed  bool
	hints   []string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile and active number.
func (sb *StatusBar) SetProfile(name, number string) {
	sb.profile, sb.number = name, number
	sb.render()
}

// SetStatus updates the daemon state.
func (sb *StatusBar) SetStatus(status string) {
	sb.status = status
	sb.render()
}

// SetChatCount updates the number of chats listed.
func (sb *StatusBar) SetChatCount(n int) {
	sb.chats = n
	sb.render()
}

// SetFlash sets a temporary message. Failures are drawn in red.
func (sb *StatusBar) SetFlash(msg string, failed bool) {
	sb.flash, sb.failed = msg, failed
	sb.render()
}

// SetHints sets the key hints shown at the right.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	color := "yellow"
	switch sb.status {
	case "READY":
		color = "green"
	case "DEGRADED", "ERROR", "CREDENTIALS_REQUIRED":
		color = "red"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] %s | [%s]%s[-] | %d chats | %s",
		sb.profile, sb.number, color, sb.status, sb.chats, time.Now().Format("15:04"))
	if sb.flash != "" {
		flashColor := "yellow"
		if sb.failed {
			flashColor = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", flashColor, tview.Escape(sb.flash))
	}
	if len(sb.hints) > 0 {
		line += " | [::d]" + strings.Join(sb.hints, " ") + "[-:-:-]"
	}
	_, _ = fmt.Fprint(sb, line)
}
