package bus

import (
	"testing"
	"time"

	"github.com/pokulabs/poku/internal/stream"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(KindMessageReceived, MessageEvent{Message: stream.Message{SID: "SM1"}})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageReceived {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageReceived)
		}
		if evt.ID == "" || evt.Timestamp.IsZero() {
			t.Errorf("id and timestamp should be set: %+v", evt)
		}
		if p, ok := evt.Payload.(MessageEvent); !ok || p.Message.SID != "SM1" {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageReceived})
	b.Publish(Event{Kind: KindChatRead})

	select {
	case evt := <-ch:
		if evt.Kind != KindChatRead {
			t.Errorf("got kind %q, want %s", evt.Kind, KindChatRead)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the message event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	unsub()
	unsub()

	if n := b.Subscribers(); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}

	b.Publish(Event{Kind: KindChatRead})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	// Dropped: the buffer is full.
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestInvolves(t *testing.T) {
	const me = "+1555"
	tests := []struct {
		name string
		evt  Event
		want bool
	}{
		{"inbound", Event{Payload: MessageEvent{Message: stream.Message{From: "+1999", To: me}}}, true},
		{"outbound", Event{Payload: MessageEvent{Message: stream.Message{From: me, To: "+1999"}}}, true},
		{"other number", Event{Payload: MessageEvent{Message: stream.Message{From: "+1777", To: "+1999"}}}, false},
		{"chat of number", Event{Payload: ChatEvent{ChatID: me + "+1999"}}, true},
		{"chat of other", Event{Payload: ChatEvent{ChatID: "+1777+1999"}}, false},
		{"status", Event{Payload: StatusEvent{To: "READY"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.evt.Involves(me); got != tt.want {
				t.Errorf("Involves = %v, want %v", got, tt.want)
			}
		})
	}
}
