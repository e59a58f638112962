package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pokulabs/poku/internal/bus"
	"github.com/pokulabs/poku/internal/store"
	"github.com/pokulabs/poku/internal/stream"
	"github.com/pokulabs/poku/internal/twilio"
	"go.uber.org/zap"
)

const (
	active = "+15550000000"
	alice  = "+15551111111"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func inbound(sid string, minute int, body string) stream.Message {
	return stream.Message{SID: sid, From: alice, To: active, Body: body, DateSent: base.Add(time.Duration(minute) * time.Minute), Status: "received"}
}

func thread(t *testing.T, db *store.DB) []stream.Message {
	t.Helper()
	msgs, err := db.ListThread(active, alice, time.Time{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil, nil)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	if err := e.IngestMessage(inbound("SM1", 0, "hello"), "webhook"); err != nil {
		t.Fatal(err)
	}

	msgs := thread(t, db)
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Errorf("got %d messages, want 1 with body=hello", len(msgs))
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageReceived {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindMessageReceived)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.received event")
	}
}

func TestEngineIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil, nil)
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	m := inbound("SM1", 0, "v1")
	if err := e.IngestMessage(m, "webhook"); err != nil {
		t.Fatal(err)
	}
	m.Body = "v2"
	if err := e.IngestMessage(m, "webhook"); err != nil {
		t.Fatal(err)
	}

	msgs := thread(t, db)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2 (updated)", msgs[0].Body)
	}
	<-ch
	select {
	case evt := <-ch:
		t.Errorf("redelivery announced again: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngineApplyStatus(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil, nil)
	ch, unsub := b.Subscribe(bus.KindMessageStatus, 10)
	defer unsub()

	out := stream.Message{SID: "SM1", From: active, To: alice, Body: "hi", DateSent: base, Status: "queued"}
	if err := e.IngestMessage(out, "outbox"); err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyStatus(twilio.StatusUpdate{SID: "SM1", Status: "delivered"}); err != nil {
		t.Fatal(err)
	}
	// Unknown sids are dropped without error.
	if err := e.ApplyStatus(twilio.StatusUpdate{SID: "SM404", Status: "delivered"}); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		p := evt.Payload.(bus.MessageEvent)
		if p.Message.Status != "delivered" {
			t.Errorf("status = %q, want delivered", p.Message.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.status event")
	}
}

func TestEngineIngestHistoryBatch(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil, nil)

	msgs := []stream.Message{inbound("SM1", 1, "one"), inbound("SM2", 2, "two"), inbound("SM3", 3, "three")}
	n, err := e.IngestHistoryBatch(msgs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("added %d, want 3", n)
	}

	n, err = e.IngestHistoryBatch(msgs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("re-ingest added %d, want 0", n)
	}
	if got := len(thread(t, db)); got != 3 {
		t.Errorf("got %d messages, want 3 (idempotent batch)", got)
	}
}

// The engine picks up webhook events published on the bus.
func TestEngineBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, b, nil, logger)

	e.Start(context.Background())
	defer e.Stop()

	b.Emit(bus.KindTwilioMessage, inbound("SM1", 0, "from bus"))

	deadline := time.Now().Add(time.Second)
	for len(thread(t, db)) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	msgs := thread(t, db)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (bus subscription)", len(msgs))
	}
	if msgs[0].Body != "from bus" {
		t.Errorf("body = %q, want 'from bus'", msgs[0].Body)
	}
}

func TestReconcilerBackfill(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil, nil)

	var log []stream.Message
	for i := 9; i >= 0; i-- {
		log = append(log, inbound(fmt.Sprintf("SM%d", i), 2*i, ""))
	}
	src := sliceSource{msgs: log, size: 3}
	r := NewReconciler(db, e, src, nil)

	n, err := r.Backfill(context.Background(), active, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("backfilled %d, want 10", n)
	}
	cp, err := r.GetCheckpoint(checkpointKey(active))
	if err != nil {
		t.Fatal(err)
	}
	if cp != base.Add(18*time.Minute).Format(time.RFC3339Nano) {
		t.Errorf("checkpoint = %q", cp)
	}

	// A second run stops at the checkpoint after the first page.
	n, err = NewReconciler(db, e, src, nil).Backfill(context.Background(), active, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second backfill added %d, want 0", n)
	}
}

// sliceSource filters an in-memory log.
type sliceSource struct {
	msgs []stream.Message
	size int
}

func (s sliceSource) Open(_ context.Context, f stream.Filter) (stream.Page, error) {
	var match []stream.Message
	for _, m := range s.msgs {
		if (f.From == "" || m.From == f.From) && (f.To == "" || m.To == f.To) {
			match = append(match, m)
		}
	}
	return stream.NewSlicePage(match, s.size), nil
}
