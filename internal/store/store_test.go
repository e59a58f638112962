package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pokulabs/poku/internal/chats"
	"github.com/pokulabs/poku/internal/stream"
)

const (
	active = "+15550000000"
	alice  = "+15551111111"
	bob    = "+15552222222"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenMirrorCreatesProfileDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "work", "poku.db")
	db, result, err := OpenMirror(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if !result.Changed || result.From != 0 {
		t.Errorf("fresh mirror result = %+v", result)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	reopened, result, err := OpenMirror(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close() }()
	if result.Changed {
		t.Error("reopening an up to date mirror should not migrate")
	}
}

func msg(sid, from, to string, minute int, body string) stream.Message {
	return stream.Message{SID: sid, From: from, To: to, Body: body, DateSent: base.Add(time.Duration(minute) * time.Minute), Status: "received"}
}

func mustUpsert(t *testing.T, db *DB, msgs ...stream.Message) {
	t.Helper()
	for _, m := range msgs {
		if _, err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert message", "INSERT INTO messages (sid, from_number, to_number, body, date_sent, status) VALUES (?, ?, ?, ?, ?, ?)", []any{"SM1", alice, active, "hello", 1000, "received"}},
		{"mark read", "INSERT INTO read_positions (chat_id, msg_id) VALUES (?, ?)", []any{"c", "SM1"}},
		{"chat meta", "INSERT INTO chat_meta (chat_code, is_flagged, claimed_by) VALUES (?, ?, ?)", []any{"c", 1, "ops"}},
		{"queue outbox", "INSERT INTO outbox (client_msg_id, from_number, to_number, body, status) VALUES (?, ?, ?, ?, ?)", []any{"cid", active, alice, "text", "queued"}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM messages_fts WHERE messages_fts MATCH 'hello'").Scan(&count)
	if err != nil {
		t.Fatalf("FTS query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("FTS count = %d, want 1", count)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	m := msg("SM1", alice, active, 0, "hello")
	created, err := db.UpsertMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first upsert should report created")
	}

	m.Body = "hello updated"
	m.Status = "delivered"
	created, err = db.UpsertMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second upsert should not report created")
	}

	msgs, err := db.ListThread(active, alice, time.Time{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" || msgs[0].Status != "delivered" {
		t.Errorf("got %+v", msgs[0])
	}
	if !msgs[0].DateSent.Equal(base) {
		t.Errorf("date_sent = %v, want %v", msgs[0].DateSent, base)
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, msg("SM1", active, alice, 0, "hi"))

	ok, err := db.UpdateMessageStatus("SM1", "undelivered", 30003)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("known message should be updated")
	}
	got, err := db.GetMessage("SM1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != "undelivered" || got.ErrorCode != 30003 {
		t.Errorf("got %+v", got)
	}

	ok, err = db.UpdateMessageStatus("SM404", "delivered", 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("unknown message should not be updated")
	}
	if got, _ := db.GetMessage("SM404"); got != nil {
		t.Errorf("expected nil for missing message, got %+v", got)
	}
}

func TestListThreadBothDirections(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db,
		msg("SM1", alice, active, 1, "a1"),
		msg("SM2", active, alice, 2, "o1"),
		msg("SM3", bob, active, 3, "b1"),
		msg("SM4", alice, active, 4, "a2"),
	)

	msgs, err := db.ListThread(active, alice, time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	var sids []string
	for _, m := range msgs {
		sids = append(sids, m.SID)
	}
	if fmt.Sprint(sids) != "[SM4 SM2 SM1]" {
		t.Errorf("thread = %v, want [SM4 SM2 SM1]", sids)
	}

	older, err := db.ListThread(active, alice, msgs[0].DateSent, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 {
		t.Errorf("got %d older messages, want 2", len(older))
	}
}

func TestMessageSourcePages(t *testing.T) {
	db := testDB(t)
	// Five inbound messages, two of them sharing a timestamp.
	mustUpsert(t, db,
		msg("SM1", alice, active, 1, ""),
		msg("SM2", bob, active, 2, ""),
		msg("SM3", alice, active, 3, ""),
		msg("SM4", bob, active, 3, ""),
		msg("SM5", alice, active, 5, ""),
		msg("SM6", active, alice, 6, ""),
	)

	src := NewMessageSource(db, 2)
	ctx := context.Background()
	p, err := src.Open(ctx, stream.Filter{To: active})
	if err != nil {
		t.Fatal(err)
	}

	var sids []string
	for {
		for _, m := range p.Items() {
			sids = append(sids, m.SID)
		}
		if !p.HasNext() {
			break
		}
		if p, err = p.Next(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if fmt.Sprint(sids) != "[SM5 SM4 SM3 SM2 SM1]" {
		t.Errorf("pages = %v, want [SM5 SM4 SM3 SM2 SM1]", sids)
	}
}

func TestMessageSourceLimitedFilter(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db,
		msg("SM1", alice, active, 1, ""),
		msg("SM2", alice, active, 2, ""),
		msg("SM3", bob, active, 3, ""),
	)

	p, err := NewMessageSource(db, 50).Open(context.Background(), stream.Filter{From: alice, To: active, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Items()) != 1 || p.Items()[0].SID != "SM2" {
		t.Errorf("items = %+v, want SM2", p.Items())
	}
	if p.HasNext() {
		t.Error("limited filter should not page")
	}
}

func TestAggregatorOverMirror(t *testing.T) {
	db := testDB(t)
	for i := range 12 {
		cp := fmt.Sprintf("+1555300%04d", i)
		mustUpsert(t, db,
			msg(fmt.Sprintf("SMin%d", i), cp, active, 2*i, "in"),
			msg(fmt.Sprintf("SMout%d", i), active, cp, 2*i+1, "out"),
		)
	}
	if err := db.MarkRead(context.Background(), chats.ChatID(active, "+15553000011"), "SMout11"); err != nil {
		t.Fatal(err)
	}

	agg := chats.NewAggregator(NewMessageSource(db, 3), db, db, nil, nil)
	ctx := context.Background()
	batch, err := agg.LoadInitial(ctx, active)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	var ids []string
	collect := func(list []chats.ChatInfo) {
		for _, c := range list {
			if seen[c.ChatID] {
				t.Errorf("chat %s returned twice", c.ChatID)
			}
			seen[c.ChatID] = true
			ids = append(ids, c.ChatID)
			if c.ContactNumber == "+15553000011" && c.HasUnread {
				t.Errorf("chat %s should be read", c.ChatID)
			}
		}
	}
	collect(batch.Chats)
	for st := batch.State; batch.HasMore; st = batch.State {
		batch, err = agg.LoadMore(ctx, st, ids, 4)
		if err != nil {
			t.Fatal(err)
		}
		if len(batch.Chats) > 4 {
			t.Fatalf("got %d chats, want at most 4", len(batch.Chats))
		}
		collect(batch.Chats)
	}
	if len(seen) != 12 {
		t.Errorf("got %d chats, want 12", len(seen))
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db,
		msg("SM1", alice, active, 1, "hello world"),
		msg("SM2", bob, active, 2, "goodbye world"),
	)

	results, err := db.SearchMessages("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Message.SID != "SM1" {
		t.Errorf("sid = %q, want SM1", results[0].Message.SID)
	}

	results, err = db.SearchMessages("world", bob, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.SID != "SM2" {
		t.Errorf("number-scoped search = %+v, want SM2", results)
	}
}

func TestSearchFollowsBodyUpdates(t *testing.T) {
	db := testDB(t)
	m := msg("SM1", alice, active, 1, "draft text")
	mustUpsert(t, db, m)
	m.Body = "final text"
	mustUpsert(t, db, m)

	results, err := db.SearchMessages("draft", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("stale body still indexed: %+v", results)
	}
	results, err = db.SearchMessages("final", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", active, alice, "test msg"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].ClientMsgID != "client1" || pending[0].To != alice {
		t.Errorf("got %+v", pending[0])
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "SM9"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
	e, err := db.GetOutbox("client1")
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.Status != "sent" || e.ServerSID != "SM9" {
		t.Errorf("got %+v", e)
	}
}

func TestRequeueSending(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox("c1", active, alice, "x"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	n, err := db.RequeueSending()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("requeued %d, want 1", n)
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 1 {
		t.Errorf("got %d pending, want 1", len(pending))
	}
}

func TestReadPosition(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, ok, err := db.ReadPosition(ctx, "chat"); err != nil || ok {
		t.Fatalf("unread chat: ok=%v err=%v", ok, err)
	}
	if err := db.MarkRead(ctx, "chat", "SM1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkRead(ctx, "chat", "SM2"); err != nil {
		t.Fatal(err)
	}
	id, ok, err := db.ReadPosition(ctx, "chat")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || id != "SM2" {
		t.Errorf("read position = %q %v, want SM2", id, ok)
	}
}

func TestChatsMeta(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a, b, c := chats.ChatID(active, alice), chats.ChatID(active, bob), chats.ChatID(active, "+15553333333")

	if err := db.SetFlag(ctx, a, true, "angry", "refund now"); err != nil {
		t.Fatal(err)
	}
	if err := db.Claim(ctx, b, "ops@poku"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetEnrichment(ctx, c, chats.Enrichment{DisplayName: "Carol"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertLabel(ctx, chats.Label{ID: "vip", Name: "VIP", Color: "gold"}); err != nil {
		t.Fatal(err)
	}
	if err := db.AssignLabel(ctx, c, "vip"); err != nil {
		t.Fatal(err)
	}

	priority, err := db.ChatsMeta(ctx, chats.MetaQuery{IsFlagged: true, IsClaimed: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(priority) != 2 {
		t.Fatalf("got %d priority chats, want 2", len(priority))
	}

	// A number whose digits extend the active one is another line.
	other := chats.ChatID(active+"9", alice)
	if err := db.SetFlag(ctx, other, true, "elsewhere", ""); err != nil {
		t.Fatal(err)
	}
	scoped, err := db.ChatsMeta(ctx, chats.MetaQuery{ActiveNumber: "+15559999999", IsFlagged: true, IsClaimed: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 0 {
		t.Errorf("foreign number returned %+v", scoped)
	}
	scoped, err = db.ChatsMeta(ctx, chats.MetaQuery{ActiveNumber: active + "9", IsFlagged: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 || scoped[0].ChatCode != other {
		t.Errorf("scoped = %+v", scoped)
	}
	if err := db.SetFlag(ctx, other, false, "", ""); err != nil {
		t.Fatal(err)
	}

	flagged, err := db.ChatsMeta(ctx, chats.MetaQuery{IsFlagged: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(flagged) != 1 || flagged[0].ChatCode != a || flagged[0].FlaggedReason != "angry" {
		t.Errorf("flagged = %+v", flagged)
	}

	some, err := db.ChatsMeta(ctx, chats.MetaQuery{ChatsOfInterest: []string{c, "nope"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(some) != 1 {
		t.Fatalf("got %d, want 1", len(some))
	}
	if some[0].EnrichedData == nil || some[0].EnrichedData.DisplayName != "Carol" {
		t.Errorf("enrichment = %+v", some[0].EnrichedData)
	}
	if len(some[0].Labels) != 1 || some[0].Labels[0].Name != "VIP" {
		t.Errorf("labels = %+v", some[0].Labels)
	}

	if err := db.SetFlag(ctx, a, false, "ignored", "ignored"); err != nil {
		t.Fatal(err)
	}
	flagged, _ = db.ChatsMeta(ctx, chats.MetaQuery{IsFlagged: true})
	if len(flagged) != 0 {
		t.Errorf("unflagged chat still returned: %+v", flagged)
	}
}

func TestStatsAndSyncState(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db,
		msg("SM1", alice, active, 1, ""),
		msg("SM2", active, alice, 2, ""),
		msg("SM3", bob, active, 3, ""),
	)
	if err := db.QueueOutbox("c1", active, bob, "x"); err != nil {
		t.Fatal(err)
	}

	s, err := db.GetStats(active)
	if err != nil {
		t.Fatal(err)
	}
	if s.Messages != 3 || s.Chats != 2 || s.Queued != 1 {
		t.Errorf("stats = %+v", s)
	}

	latest, err := db.LatestMessageDate(active)
	if err != nil {
		t.Fatal(err)
	}
	if !latest.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("latest = %v", latest)
	}

	if v, _ := db.GetSyncState("backfill"); v != "" {
		t.Errorf("unset key = %q", v)
	}
	if err := db.SetSyncState("backfill", "x"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetSyncState("backfill"); v != "x" {
		t.Errorf("got %q, want x", v)
	}
}
