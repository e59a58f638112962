package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/pokulabs/poku/internal/chats"
	"github.com/pokulabs/poku/internal/stream"
)

func init() {
	color.NoColor = true
}

func TestAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{10 * time.Second, "now"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{50 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := age(tt.d); got != tt.want {
			t.Errorf("age(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := preview("hello\n  world", 20); got != "hello world" {
		t.Errorf("preview = %q", got)
	}
	if got := preview("abcdefghij", 5); got != "abcd…" {
		t.Errorf("preview = %q, want abcd…", got)
	}
}

func TestChatLine(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := chats.ChatInfo{
		ChatID:           "+15550000000+15551112222",
		ContactNumber:    "+15551112222",
		RecentMsgContent: "need help",
		RecentMsgDate:    now.Add(-2 * time.Hour),
		HasUnread:        true,
		IsFlagged:        true,
		ClaimedBy:        "ana",
		EnrichedData:     &chats.Enrichment{DisplayName: "Jo"},
	}
	line := chatLine(c, now)
	for _, want := range []string{"●", "!", "Jo", "+15551112222", "2h", "need help", "@ana"} {
		if !strings.Contains(line, want) {
			t.Errorf("chatLine() = %q, missing %q", line, want)
		}
	}
}

func TestPrintThreadOldestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []stream.Message{
		{SID: "2", From: "+1", To: "+2", Body: "second", DateSent: base.Add(time.Minute)},
		{SID: "1", From: "+2", To: "+1", Body: "first", DateSent: base},
	}
	var buf bytes.Buffer
	printThread(&buf, "+2", msgs)
	out := buf.String()
	if strings.Index(out, "first") > strings.Index(out, "second") {
		t.Errorf("thread not oldest first:\n%s", out)
	}
	if !strings.Contains(out, "me") {
		t.Errorf("own messages not labelled:\n%s", out)
	}
}
