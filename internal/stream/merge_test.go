package stream

import (
	"context"
	"math/rand"
	"slices"
	"testing"
	"time"
)

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func msg(sid string, sec int64, from, to string) Message {
	return Message{SID: sid, From: from, To: to, DateSent: at(sec)}
}

func sids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.SID
	}
	return out
}

func TestMergeScenario(t *testing.T) {
	inbound := []Message{msg("i1", 100, "B", "A"), msg("i2", 80, "B", "A")}
	outbound := []Message{msg("o1", 90, "A", "B")}

	got := Merge(inbound, outbound, at(80))
	want := []string{"i1", "o1", "i2"}
	if !slices.Equal(sids(got), want) {
		t.Errorf("Merge() = %v, want %v", sids(got), want)
	}
}

func TestMergeDropsItemsBelowFloor(t *testing.T) {
	inbound := []Message{msg("i1", 100, "B", "A"), msg("i2", 50, "B", "A")}
	outbound := []Message{msg("o1", 70, "A", "B"), msg("o2", 60, "A", "C")}

	got := Merge(inbound, outbound, at(60))
	want := []string{"i1", "o1", "o2"}
	if !slices.Equal(sids(got), want) {
		t.Errorf("Merge() = %v, want %v", sids(got), want)
	}
}

func TestMergeTiePrefersInbound(t *testing.T) {
	inbound := []Message{msg("i1", 10, "B", "A")}
	outbound := []Message{msg("o1", 10, "A", "B")}

	got := Merge(inbound, outbound, time.Time{})
	if got[0].SID != "i1" {
		t.Errorf("first = %q, want i1 on tie", got[0].SID)
	}
}

func TestMergeEmptySides(t *testing.T) {
	tests := []struct {
		name     string
		inbound  []Message
		outbound []Message
		want     []string
	}{
		{"both empty", nil, nil, []string{}},
		{"inbound only", []Message{msg("i1", 3, "B", "A"), msg("i2", 1, "B", "A")}, nil, []string{"i1", "i2"}},
		{"outbound only", nil, []Message{msg("o1", 2, "A", "B")}, []string{"o1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sids(Merge(tt.inbound, tt.outbound, time.Time{}))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Merge() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestMergeProperties checks that the output is descending and is exactly
// the union of both inputs at or after the floor.
func TestMergeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	gen := func(prefix string, n int) []Message {
		out := make([]Message, n)
		for i := range out {
			out[i] = msg(prefix+string(rune('a'+i)), int64(rng.Intn(50)), "x", "y")
		}
		slices.SortStableFunc(out, func(a, b Message) int { return b.DateSent.Compare(a.DateSent) })
		return out
	}

	for round := 0; round < 200; round++ {
		in := gen("i", rng.Intn(8))
		out := gen("o", rng.Intn(8))
		floor := at(int64(rng.Intn(50)))

		got := Merge(in, out, floor)

		for k := 1; k < len(got); k++ {
			if got[k].DateSent.After(got[k-1].DateSent) {
				t.Fatalf("round %d: output not descending at %d: %v", round, k, sids(got))
			}
		}

		var want []string
		for _, m := range append(slices.Clone(in), out...) {
			if !m.DateSent.Before(floor) {
				want = append(want, m.SID)
			}
		}
		gotIDs := sids(got)
		slices.Sort(gotIDs)
		slices.Sort(want)
		if !slices.Equal(gotIDs, want) && !(len(gotIDs) == 0 && len(want) == 0) {
			t.Fatalf("round %d: got %v, want %v", round, gotIDs, want)
		}
	}
}

func TestMergeIsPure(t *testing.T) {
	in := []Message{msg("i1", 5, "B", "A"), msg("i2", 2, "B", "A")}
	out := []Message{msg("o1", 4, "A", "B")}
	first := Merge(in, out, at(2))
	second := Merge(in, out, at(2))
	if !slices.Equal(sids(first), sids(second)) {
		t.Errorf("Merge() not deterministic: %v vs %v", sids(first), sids(second))
	}
	if in[0].SID != "i1" || out[0].SID != "o1" {
		t.Error("Merge() mutated its inputs")
	}
}

func TestWatermark(t *testing.T) {
	tests := []struct {
		name     string
		inbound  []Message
		outbound []Message
		want     time.Time
	}{
		{"later tail wins", []Message{msg("i1", 100, "", ""), msg("i2", 80, "", "")}, []Message{msg("o1", 90, "", "")}, at(90)},
		{"inbound later", []Message{msg("i1", 70, "", "")}, []Message{msg("o1", 90, "", ""), msg("o2", 20, "", "")}, at(70)},
		{"empty inbound", nil, []Message{msg("o1", 30, "", "")}, at(30)},
		{"both empty", nil, nil, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Watermark(tt.inbound, tt.outbound); !got.Equal(tt.want) {
				t.Errorf("Watermark() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBetween(t *testing.T) {
	items := []Message{msg("a", 9, "", ""), msg("b", 7, "", ""), msg("c", 5, "", ""), msg("d", 3, "", "")}
	got := sids(Between(items, at(5), at(7)))
	want := []string{"b", "c"}
	if !slices.Equal(got, want) {
		t.Errorf("Between() = %v, want %v", got, want)
	}
	if got := Between(items, at(4), time.Time{}); len(got) != 3 {
		t.Errorf("Between() with open ceil = %d items, want 3", len(got))
	}
}

func TestSlicePage(t *testing.T) {
	all := []Message{msg("a", 4, "", ""), msg("b", 3, "", ""), msg("c", 2, "", ""), msg("d", 1, "", ""), msg("e", 0, "", "")}
	var p Page = NewSlicePage(all, 2)

	var seen []string
	for {
		seen = append(seen, sids(p.Items())...)
		if !p.HasNext() {
			break
		}
		next, err := p.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		p = next
	}
	if !slices.Equal(seen, []string{"a", "b", "c", "d", "e"}) {
		t.Errorf("paged items = %v", seen)
	}
}
