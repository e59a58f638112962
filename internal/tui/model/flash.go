package model

import (
	"sync"
	"time"
)

// Severity of the status line.
type Severity int

const (
	Notice Severity = iota
	Failure
)

const (
	noticeTTL  = 3 * time.Second
	failureTTL = 6 * time.Second
)

// Flash is the status bar's transient line. A notice never replaces a
// failure that is still showing.
type Flash struct {
	mu       sync.Mutex
	now      func() time.Time
	text     string
	severity Severity
	expires  time.Time
}

// Notify shows an informational message such as "Message queued".
func (f *Flash) Notify(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock()
	if f.severity == Failure && now.Before(f.expires) {
		return
	}
	f.text, f.severity, f.expires = msg, Notice, now.Add(noticeTTL)
}

// Fail reports that action did not complete.
func (f *Flash) Fail(action string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = action + " failed: " + err.Error()
	f.severity = Failure
	f.expires = f.clock().Add(failureTTL)
}

// Current returns the line to show, or "" once it has expired.
func (f *Flash) Current() (string, Severity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.clock().Before(f.expires) {
		return "", Notice
	}
	return f.text, f.severity
}

// Clear drops whatever is showing.
func (f *Flash) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text, f.severity, f.expires = "", Notice, time.Time{}
}

func (f *Flash) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}
