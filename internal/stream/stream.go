package stream

import (
	"context"
	"time"
)

// Message is one SMS/WhatsApp message as reported by the provider.
type Message struct {
	SID       string
	From      string
	To        string
	Body      string
	DateSent  time.Time
	Status    string
	ErrorCode int
}

// Filter selects one direction of an active number's history.
// An empty field matches any party.
type Filter struct {
	From  string
	To    string
	Limit int
}

// Page is one page of a descending-by-DateSent message listing.
// Next returns a new page holding items strictly older than the last
// item of this one; a Page is never mutated after it is returned.
type Page interface {
	Items() []Message
	HasNext() bool
	Next(ctx context.Context) (Page, error)
}

// Source opens paginated message listings.
type Source interface {
	Open(ctx context.Context, f Filter) (Page, error)
}

// Tail returns the send time of the oldest item on the page, or the
// zero time when the page is empty.
func Tail(items []Message) time.Time {
	if len(items) == 0 {
		return time.Time{}
	}
	return items[len(items)-1].DateSent
}

// SlicePage serves a fixed, already sorted slice in pages of size n.
// It backs tests and small in-memory sources.
type SlicePage struct {
	all    []Message
	offset int
	size   int
}

// NewSlicePage returns the first page of all, split into pages of size n.
func NewSlicePage(all []Message, n int) *SlicePage {
	if n <= 0 {
		n = len(all)
	}
	return &SlicePage{all: all, size: n}
}

func (p *SlicePage) Items() []Message {
	end := min(p.offset+p.size, len(p.all))
	return p.all[p.offset:end]
}

func (p *SlicePage) HasNext() bool {
	return p.offset+p.size < len(p.all)
}

func (p *SlicePage) Next(_ context.Context) (Page, error) {
	if !p.HasNext() {
		return &SlicePage{all: p.all, offset: len(p.all), size: p.size}, nil
	}
	return &SlicePage{all: p.all, offset: p.offset + p.size, size: p.size}, nil
}
