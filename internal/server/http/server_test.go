package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	cfgpkg "github.com/jswanson6857/shop-analytics/internal/config"
	"github.com/jswanson6857/shop-analytics/internal/runtime"
	pebblestore "github.com/jswanson6857/shop-analytics/internal/storage/pebble"
)

func newTestServer(t *testing.T) (*httptest.Server, *runtime.Runtime) {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.TokenSecret = "test-secret"
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	ts := httptest.NewServer(New(rt).Handler())
	t.Cleanup(ts.Close)
	return ts, rt
}

func postHook(t *testing.T, ts *httptest.Server, body string) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/hooks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post hook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hook status: %d", resp.StatusCode)
	}
	var receipt struct {
		WebhookID string `json:"webhook_id"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		t.Fatalf("receipt decode: %v", err)
	}
	if receipt.Status != "stored" || receipt.WebhookID == "" {
		t.Fatalf("bad receipt: %+v", receipt)
	}
	return receipt.WebhookID
}

func getHistory(t *testing.T, ts *httptest.Server, query string) (events []map[string]any, next string) {
	t.Helper()
	resp, err := http.Get(ts.URL + "/v1/events/history" + query)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status: %d", resp.StatusCode)
	}
	var out struct {
		Events    []map[string]any `json:"events"`
		NextToken *string          `json:"nextToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("history decode: %v", err)
	}
	if out.NextToken != nil {
		next = *out.NextToken
	}
	return out.Events, next
}

func TestHealthAndPreflight(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/v1/events/history", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status: %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("cors header missing")
	}
}

func TestIngestThenHistoryPagination(t *testing.T) {
	ts, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		postHook(t, ts, fmt.Sprintf(`{"repository":"r","n":%d}`, i))
	}

	events, next := getHistory(t, ts, "?limit=2")
	if len(events) != 2 {
		t.Fatalf("page 1: %d events", len(events))
	}
	if next == "" {
		t.Fatal("expected continuation token")
	}

	events, next = getHistory(t, ts, "?limit=2&continuationToken="+next)
	if len(events) != 1 {
		t.Fatalf("page 2: %d events", len(events))
	}
	if next != "" {
		t.Fatalf("unexpected token on final page: %q", next)
	}
}

func TestHistoryInvalidTokenIs400(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/events/history?continuationToken=bogus")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("expected error body")
	}
}

func TestHistoryDropsNonJSONHooks(t *testing.T) {
	ts, _ := newTestServer(t)

	postHook(t, ts, `{"ok":true}`)
	// Raw text body: stored, but never shown in history.
	resp, err := http.Post(ts.URL+"/v1/hooks", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	events, _ := getHistory(t, ts, "?exhaustive=true")
	if len(events) != 1 {
		t.Fatalf("expected only the json hook, got %d", len(events))
	}
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("ws json: %v", err)
	}
	return msg
}

func TestWSConnectAckAndPingPong(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts, "")

	ack := readWS(t, conn)
	if ack["type"] != "connected" || ack["connectionId"] == "" {
		t.Fatalf("bad ack: %+v", ack)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	pong := readWS(t, conn)
	if pong["type"] != "pong" || pong["connectionId"] != ack["connectionId"] {
		t.Fatalf("bad pong: %+v", pong)
	}
}

func TestWSReceivesBroadcast(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts, "")
	_ = readWS(t, conn) // connected ack

	postHook(t, ts, `{"repository":"shop/analytics","action":"push"}`)

	msg := readWS(t, conn)
	if msg["type"] != "event" {
		t.Fatalf("expected event frame: %+v", msg)
	}
	ev, ok := msg["event"].(map[string]any)
	if !ok {
		t.Fatalf("event shape: %+v", msg)
	}
	if ev["source"] != "github" {
		t.Fatalf("source: %v", ev["source"])
	}
	if _, leaked := ev["expiry"]; leaked {
		t.Fatal("envelope leaked expiry")
	}
}

func TestWSFilterGatesBroadcast(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts, "?filter="+url.QueryEscape(`source == "stripe"`))
	_ = readWS(t, conn)

	// A github hook should not reach this subscriber; a stripe one should.
	postHook(t, ts, `{"repository":"x"}`)
	postHook(t, ts, `{"object":"charge"}`)

	msg := readWS(t, conn)
	ev := msg["event"].(map[string]any)
	if ev["source"] != "stripe" {
		t.Fatalf("filtered event leaked: %v", ev["source"])
	}
}

func TestWSBadFilterRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?filter=source%20=="
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func TestWSDisconnectUnregisters(t *testing.T) {
	ts, rt := newTestServer(t)
	conn := dialWS(t, ts, "")
	_ = readWS(t, conn)
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := rt.Registry().Count(t.Context())
		if err == nil && n == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("connection row survived disconnect")
}

func TestMetricsExposed(t *testing.T) {
	ts, _ := newTestServer(t)
	postHook(t, ts, `{"a":1}`)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status: %d", resp.StatusCode)
	}
}
