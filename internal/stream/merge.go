package stream

import "time"

// Merge combines two pages that are each sorted by DateSent descending
// into a single descending sequence. Items older than floor are dropped
// before merging. On equal timestamps the inbound item comes first.
func Merge(inbound, outbound []Message, floor time.Time) []Message {
	in := atOrAfter(inbound, floor)
	out := atOrAfter(outbound, floor)

	merged := make([]Message, 0, len(in)+len(out))
	i, j := 0, 0
	for i < len(in) && j < len(out) {
		if !in[i].DateSent.Before(out[j].DateSent) {
			merged = append(merged, in[i])
			i++
		} else {
			merged = append(merged, out[j])
			j++
		}
	}
	merged = append(merged, in[i:]...)
	merged = append(merged, out[j:]...)
	return merged
}

// Watermark returns the later of the two tail timestamps. Only the span
// at or after it is covered by both listings; the side with the earlier
// tail has to be paged further before the watermark can move past it.
// An empty side imposes no bound.
func Watermark(inbound, outbound []Message) time.Time {
	a, b := Tail(inbound), Tail(outbound)
	if a.After(b) {
		return a
	}
	return b
}

// Between returns the items with floor <= DateSent <= ceil. A zero ceil
// means no upper bound.
func Between(items []Message, floor, ceil time.Time) []Message {
	var out []Message
	for _, m := range items {
		if m.DateSent.Before(floor) {
			continue
		}
		if !ceil.IsZero() && m.DateSent.After(ceil) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func atOrAfter(items []Message, floor time.Time) []Message {
	if floor.IsZero() {
		return items
	}
	// Items are descending, so everything past the first older item is older too.
	for i, m := range items {
		if m.DateSent.Before(floor) {
			return items[:i]
		}
	}
	return items
}
