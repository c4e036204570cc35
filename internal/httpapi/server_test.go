package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lmoretti/voicedesk/internal/broadcast"
	"github.com/lmoretti/voicedesk/internal/care"
	"github.com/lmoretti/voicedesk/internal/config"
	"github.com/lmoretti/voicedesk/internal/pool"
	"github.com/lmoretti/voicedesk/internal/protocol"
	"github.com/lmoretti/voicedesk/internal/reply"
	"github.com/lmoretti/voicedesk/internal/sentiment"
	"github.com/lmoretti/voicedesk/internal/store"
	"github.com/lmoretti/voicedesk/internal/voice"
)

func newTestServer(t *testing.T) (*httptest.Server, *broadcast.Memory) {
	t.Helper()
	broker := broadcast.NewMemory()
	opener := voice.NewMockOpener(broker)
	p := pool.New(pool.Config{
		MaxLinks:          4,
		QueueTimeout:      time.Second,
		ConnectRetries:    1,
		ConnectRetryDelay: time.Millisecond,
	}, opener, nil)
	opener.SetClosedHook(p.HandleLinkClosed)
	t.Cleanup(p.Close)

	orch := care.New(care.Config{}, p, broker, sentiment.NewLexicon(), reply.NewMock("happy to help"), store.NewInMemoryStore(), nil)
	srv := New(config.Config{}, orch, broker, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, broker
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	res := postJSON(t, ts.URL+"/v1/care/session", map[string]string{
		"customer_id": "cust-1",
		"project_id":  "proj-1",
		"language":    "en",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return sessionID
}

func TestSessionLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	sessionID := createSession(t, ts)

	msgRes := postJSON(t, ts.URL+"/v1/care/session/"+sessionID+"/message", map[string]string{"text": "hello"})
	defer msgRes.Body.Close()
	if msgRes.StatusCode != http.StatusOK {
		t.Fatalf("message status = %d, want %d", msgRes.StatusCode, http.StatusOK)
	}
	var outcome map[string]any
	if err := json.NewDecoder(msgRes.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome["reply_text"] != "happy to help" {
		t.Fatalf("reply_text = %v", outcome["reply_text"])
	}

	getRes, err := http.Get(ts.URL + "/v1/care/session/" + sessionID)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	defer getRes.Body.Close()
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", getRes.StatusCode, http.StatusOK)
	}

	endRes := postJSON(t, ts.URL+"/v1/care/session/"+sessionID+"/end", map[string]any{"rating": 5, "feedback": "great"})
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
	var summary map[string]any
	if err := json.NewDecoder(endRes.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["end_reason"] != "customer_request" {
		t.Fatalf("end_reason = %v", summary["end_reason"])
	}

	// Ending again returns the same summary, not an error.
	endAgain := postJSON(t, ts.URL+"/v1/care/session/"+sessionID+"/end", nil)
	defer endAgain.Body.Close()
	if endAgain.StatusCode != http.StatusOK {
		t.Fatalf("second end status = %d, want %d", endAgain.StatusCode, http.StatusOK)
	}
}

func TestMessageAfterEndIsGone(t *testing.T) {
	ts, _ := newTestServer(t)
	sessionID := createSession(t, ts)

	endRes := postJSON(t, ts.URL+"/v1/care/session/"+sessionID+"/end", nil)
	endRes.Body.Close()

	msgRes := postJSON(t, ts.URL+"/v1/care/session/"+sessionID+"/message", map[string]string{"text": "hello"})
	defer msgRes.Body.Close()
	if msgRes.StatusCode != http.StatusGone {
		t.Fatalf("message-after-end status = %d, want %d", msgRes.StatusCode, http.StatusGone)
	}
}

func TestMessageUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)
	res := postJSON(t, ts.URL+"/v1/care/session/ghost/message", map[string]string{"text": "hi"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestGetEndedSessionReturnsSummary(t *testing.T) {
	ts, _ := newTestServer(t)
	sessionID := createSession(t, ts)
	postJSON(t, ts.URL+"/v1/care/session/"+sessionID+"/end", nil).Body.Close()

	res, err := http.Get(ts.URL + "/v1/care/session/" + sessionID)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var summary map[string]any
	if err := json.NewDecoder(res.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["status"] != "ended" {
		t.Fatalf("status field = %v, want ended", summary["status"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	createSession(t, ts)

	res, err := http.Get(ts.URL + "/v1/care/stats")
	if err != nil {
		t.Fatalf("GET stats error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var stats struct {
		ActiveSessions int `json:"active_sessions"`
		Pool           struct {
			ActiveLinks int `json:"active_links"`
			MaxLinks    int `json:"max_links"`
		} `json:"pool"`
	}
	if err := json.NewDecoder(res.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.ActiveSessions != 1 || stats.Pool.ActiveLinks != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestSessionWSRelaysEvents(t *testing.T) {
	ts, broker := newTestServer(t)
	sessionID := createSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/care/session/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws error = %v", err)
	}
	defer conn.Close()

	// Give the relay a moment to attach its subscription.
	deadline := time.Now().Add(2 * time.Second)
	for broker.ListenerCount(sessionID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("relay never subscribed")
		}
		time.Sleep(2 * time.Millisecond)
	}

	msgRes := postJSON(t, ts.URL+"/v1/care/session/"+sessionID+"/message", map[string]string{"text": "hello"})
	msgRes.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read ws message: %v", err)
		}
		var envelope struct {
			Type protocol.MessageType `json:"type"`
			Text string               `json:"text"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.Fatalf("unmarshal ws payload: %v", err)
		}
		if envelope.Type == protocol.TypeAssistantReply {
			if envelope.Text != "happy to help" {
				t.Fatalf("relayed reply text = %q", envelope.Text)
			}
			return
		}
	}
}

func TestSessionWSUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)
	res, err := http.Get(ts.URL + "/v1/care/session/ws?session_id=ghost")
	if err != nil {
		t.Fatalf("GET ws error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}
