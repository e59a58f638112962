package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pokulabs/poku/internal/api"
	"github.com/pokulabs/poku/internal/chats"
	"github.com/pokulabs/poku/internal/store"
	"github.com/pokulabs/poku/internal/stream"
)

var (
	unreadMark  = color.New(color.FgGreen, color.Bold).Sprint("●")
	flaggedMark = color.New(color.FgRed).Sprint("!")
	dim         = color.New(color.Faint)
)

func printStatus(w io.Writer, s *api.GetStatusResponse) {
	state := s.Status
	switch s.Status {
	case "READY":
		state = color.New(color.FgGreen).Sprint(state)
	case "DEGRADED", "ERROR", "CREDENTIALS_REQUIRED":
		state = color.New(color.FgRed).Sprint(state)
	default:
		state = color.New(color.FgYellow).Sprint(state)
	}
	fmt.Fprintf(w, "Profile:  %s\n", s.Profile)
	fmt.Fprintf(w, "Status:   %s", state)
	if s.StatusMessage != "" {
		fmt.Fprintf(w, " (%s)", s.StatusMessage)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Number:   %s\n", s.ActiveNumber)
	fmt.Fprintf(w, "Uptime:   %s\n", (time.Duration(s.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Fprintf(w, "Messages: %d in %d chats, %d queued\n", s.MessageCount, s.ChatCount, s.QueuedCount)
	fmt.Fprintf(w, "Sessions: %d open\n", s.OpenSessions)
}

// chatLine renders one chat row: unread and flag markers, counterparty,
// age of the newest message and a preview.
func chatLine(c chats.ChatInfo, now time.Time) string {
	var b strings.Builder
	if c.HasUnread {
		b.WriteString(unreadMark)
	} else {
		b.WriteString(" ")
	}
	if c.IsFlagged {
		b.WriteString(flaggedMark)
	} else {
		b.WriteString(" ")
	}
	name := c.ContactNumber
	if c.EnrichedData != nil && c.EnrichedData.DisplayName != "" {
		name = c.EnrichedData.DisplayName + " " + dim.Sprint(c.ContactNumber)
	}
	fmt.Fprintf(&b, " %-28s %6s  %s", name, age(now.Sub(c.RecentMsgDate)), preview(c.RecentMsgContent, 48))
	if c.ClaimedBy != "" {
		b.WriteString(dim.Sprintf("  @%s", c.ClaimedBy))
	}
	return b.String()
}

func printChats(w io.Writer, list []chats.ChatInfo, hasMore bool) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No chats.")
		return
	}
	now := time.Now()
	for _, c := range list {
		fmt.Fprintln(w, chatLine(c, now))
	}
	if hasMore {
		fmt.Fprintln(w, dim.Sprint("… more available (--more N)"))
	}
}

func printThread(w io.Writer, counterparty string, msgs []stream.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	// Oldest first, like a chat transcript.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		who := "me"
		if m.From == counterparty {
			who = counterparty
		}
		fmt.Fprintf(w, "%s %-16s %s\n", dim.Sprint(m.DateSent.Local().Format("Jan 02 15:04")), who, m.Body)
	}
}

func printSearch(w io.Writer, results []store.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches.")
		return
	}
	for _, r := range results {
		fmt.Fprintf(w, "%s %s → %s  %s\n",
			dim.Sprint(r.Message.DateSent.Local().Format("Jan 02 15:04")),
			r.Message.From, r.Message.To, r.Snippet)
	}
}

func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
