package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pokulabs/poku/internal/api"
	"github.com/pokulabs/poku/internal/bus"
	"github.com/pokulabs/poku/internal/chats"
	"github.com/pokulabs/poku/internal/metrics"
	"github.com/pokulabs/poku/internal/status"
	"github.com/pokulabs/poku/internal/store"
	"github.com/pokulabs/poku/internal/stream"
	"github.com/pokulabs/poku/internal/twilio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const active = "+15550000000"

func newTestServer(t *testing.T, opts Options, n int) (*Server, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := db.UpsertMessage(stream.Message{
			SID:      fmt.Sprintf("SM%d", i),
			From:     fmt.Sprintf("+1444%07d", i),
			To:       active,
			Body:     "hi",
			DateSent: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	b := bus.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	agg := chats.NewAggregator(store.NewMessageSource(db, 2), db, db, m, nil)
	svc := api.NewChatService(api.Options{Profile: "main", ActiveNumber: active, PageSize: 2}, api.NewSessions(agg), db, b, nil, status.NewMachine(b), nil)
	return NewServer(opts, svc, b, m, reg, nil), b
}

func do(s *Server, method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, Options{}, 0)
	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsExposed(t *testing.T) {
	s, _ := newTestServer(t, Options{}, 3)
	do(s, http.MethodGet, "/api/v1/numbers/"+url.PathEscape(active)+"/chats", "", nil)

	w := do(s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "poku_chats_loaded_total")
}

func TestLoadChatsAndMore(t *testing.T) {
	s, _ := newTestServer(t, Options{}, 5)

	w := do(s, http.MethodGet, "/api/v1/numbers/"+url.PathEscape(active)+"/chats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var first api.ChatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.NotEmpty(t, first.SessionToken)

	seen := len(first.Chats)
	for more := first.HasMore; more; {
		w := do(s, http.MethodPost, "/api/v1/sessions/"+first.SessionToken+"/more", `{"page_size":2}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp api.ChatsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		seen += len(resp.Chats)
		more = resp.HasMore
	}
	assert.Equal(t, 5, seen)
}

func TestLoadMoreUnknownSession(t *testing.T) {
	s, _ := newTestServer(t, Options{}, 0)
	w := do(s, http.MethodPost, "/api/v1/sessions/nope/more", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestInvalidJSON(t *testing.T) {
	s, _ := newTestServer(t, Options{}, 0)
	w := do(s, http.MethodPost, "/api/v1/messages", "{", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendTextAccepted(t *testing.T) {
	s, _ := newTestServer(t, Options{}, 0)
	w := do(s, http.MethodPost, "/api/v1/messages", `{"to":"+15551112222","text":"hello"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp api.SendTextResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.NotEmpty(t, resp.ClientMsgID)
}

func TestBearerAuth(t *testing.T) {
	s, _ := newTestServer(t, Options{APIToken: "secret"}, 0)

	w := do(s, http.MethodGet, "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s, http.MethodGet, "/api/v1/status", "", http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s, http.MethodGet, "/api/v1/status", "", http.Header{"Authorization": {"Bearer secret"}})
	assert.Equal(t, http.StatusOK, w.Code)

	// Health and webhooks stay open.
	w = do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIncomingWebhookEmitsEvent(t *testing.T) {
	s, b := newTestServer(t, Options{}, 0)
	ch, unsub := b.Subscribe("twilio.", 4)
	defer unsub()

	form := url.Values{"MessageSid": {"SM1"}, "From": {"+15551112222"}, "To": {active}, "Body": {"yo"}}
	w := do(s, http.MethodPost, "/webhooks/twilio/messages", form.Encode(),
		http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<Response>")

	select {
	case evt := <-ch:
		assert.Equal(t, bus.KindTwilioMessage, evt.Kind)
		msg, ok := evt.Payload.(stream.Message)
		require.True(t, ok)
		assert.Equal(t, "SM1", msg.SID)
		assert.Equal(t, "yo", msg.Body)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestStatusWebhook(t *testing.T) {
	s, b := newTestServer(t, Options{}, 0)
	ch, unsub := b.Subscribe("twilio.", 4)
	defer unsub()

	form := url.Values{"MessageSid": {"SM9"}, "MessageStatus": {"undelivered"}, "ErrorCode": {"30003"}}
	w := do(s, http.MethodPost, "/webhooks/twilio/status", form.Encode(),
		http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})
	require.Equal(t, http.StatusNoContent, w.Code)

	evt := <-ch
	u, ok := evt.Payload.(twilio.StatusUpdate)
	require.True(t, ok)
	assert.Equal(t, "undelivered", u.Status)
	assert.Equal(t, 30003, u.ErrorCode)
}

func TestStatusWebhookRejectsBadErrorCode(t *testing.T) {
	s, b := newTestServer(t, Options{}, 0)
	ch, unsub := b.Subscribe("twilio.", 4)
	defer unsub()

	form := url.Values{"MessageSid": {"SM9"}, "MessageStatus": {"failed"}, "ErrorCode": {"3000x"}}
	w := do(s, http.MethodPost, "/webhooks/twilio/status", form.Encode(),
		http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "3000x")

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %s", evt.Kind)
	default:
	}
}

// sign computes the X-Twilio-Signature Twilio would send for a form POST.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	payload := fullURL
	for _, k := range keys {
		payload += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookSignature(t *testing.T) {
	opts := Options{TwilioAuthToken: "tok", PublicURL: "https://poku.example.com"}
	s, _ := newTestServer(t, opts, 0)
	form := url.Values{"MessageSid": {"SM1"}, "From": {"+15551112222"}, "To": {active}}
	hdr := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}

	w := do(s, http.MethodPost, "/webhooks/twilio/messages", form.Encode(), hdr)
	assert.Equal(t, http.StatusForbidden, w.Code)

	hdr.Set(twilio.SignatureHeader, sign("tok", "https://poku.example.com/webhooks/twilio/messages", form))
	w = do(s, http.MethodPost, "/webhooks/twilio/messages", form.Encode(), hdr)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookMissingSID(t *testing.T) {
	s, _ := newTestServer(t, Options{}, 0)
	w := do(s, http.MethodPost, "/webhooks/twilio/messages", "From=x",
		http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebsocketForwardsOwnNumber(t *testing.T) {
	s, b := newTestServer(t, Options{}, 0)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?number=" + url.QueryEscape(active)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	require.Eventually(t, func() bool { return b.Subscribers() >= 2 }, 2*time.Second, 10*time.Millisecond)

	b.Emit(bus.KindMessageReceived, bus.MessageEvent{Message: stream.Message{SID: "SMother", From: "+1", To: "+2"}})
	b.Emit(bus.KindMessageReceived, bus.MessageEvent{Message: stream.Message{SID: "SMmine", From: "+1", To: active}})

	var env api.EventEnvelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	assert.Equal(t, bus.KindMessageReceived, env.Kind)
	assert.Equal(t, "main", env.Profile)
	assert.Contains(t, string(env.Payload), "SMmine")
}

func TestWebsocketNeedsNumber(t *testing.T) {
	s, _ := newTestServer(t, Options{}, 0)
	w := do(s, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
