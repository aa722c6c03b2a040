package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/azaman/internal/agent"
	"github.com/nugget/azaman/internal/events"
	"github.com/nugget/azaman/internal/llm"
	"github.com/nugget/azaman/internal/state"
	"github.com/nugget/azaman/internal/tools"
	"github.com/nugget/azaman/internal/usage"
)

// fakeModel answers every call with the same scripted response.
type fakeModel struct {
	mu      sync.Mutex
	content string
	calls   []llm.ToolCall
	err     error
	pingErr error
	n       int
}

func (f *fakeModel) Chat(_ context.Context, model string, _ []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	msg := llm.Message{Role: llm.RoleAssistant, Content: f.content}
	// Tool calls only on the first call so the turn terminates.
	if f.n == 1 && len(f.calls) > 0 {
		msg = llm.Message{Role: llm.RoleAssistant, ToolCalls: f.calls}
	}
	return &llm.ChatResponse{Model: model, Message: msg, InputTokens: 12, OutputTokens: 3}, nil
}

func (f *fakeModel) Ping(context.Context) error { return f.pingErr }

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (*state.ConversationState, error) {
	return nil, fmt.Errorf("%w: disk gone", state.ErrUnavailable)
}

func (brokenStore) Save(context.Context, *state.ConversationState) (*state.ConversationState, error) {
	return nil, fmt.Errorf("%w: disk gone", state.ErrUnavailable)
}

func (brokenStore) Versions(context.Context, string, int) ([]state.VersionInfo, error) {
	return nil, fmt.Errorf("%w: disk gone", state.ErrUnavailable)
}

func (brokenStore) LoadVersion(context.Context, string, int) (*state.ConversationState, error) {
	return nil, fmt.Errorf("%w: disk gone", state.ErrUnavailable)
}

func (brokenStore) Threads(context.Context) ([]string, error) {
	return nil, fmt.Errorf("%w: disk gone", state.ErrUnavailable)
}

func (brokenStore) Close() error { return nil }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, model llm.Client, store state.Store) *Server {
	t.Helper()
	if store == nil {
		s, err := state.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), 0)
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		store = s
	}
	gw := llm.NewGateway(model, "test-model", discard())
	loop := agent.NewLoop(discard(), store, gw, tools.NewRegistry(), agent.Config{})
	return NewServer("", 0, loop, discard())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestChat_UserID(t *testing.T) {
	model := &fakeModel{
		content: "Hi Blaq! How can I assist you today?",
		calls: []llm.ToolCall{{ID: "call_0", Function: llm.FunctionCall{
			Name: "set_username", Arguments: map[string]any{"username": "Blaq"},
		}}},
	}
	srv := newTestServer(t, model, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/chat", `{"user_id":"Blaq01","message":"My name is Blaq"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[ChatResponse](t, rec)

	if resp.ThreadID != "thread_Blaq01" {
		t.Errorf("ThreadID = %q", resp.ThreadID)
	}
	if resp.Response != "Hi Blaq! How can I assist you today?" {
		t.Errorf("Response = %q", resp.Response)
	}
	if resp.State == nil || resp.State.Username != "Blaq" {
		t.Errorf("State = %+v", resp.State)
	}
	// user, assistant (tool call), tool, assistant
	if len(resp.Messages) != 4 {
		t.Errorf("Messages = %d, want 4", len(resp.Messages))
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0] != "set_username" {
		t.Errorf("ToolCalls = %v", resp.ToolCalls)
	}
	if resp.Usage.InputTokens != 24 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if _, ok := srv.Sessions().Lookup("Blaq01"); !ok {
		t.Error("chat by user id did not open a session")
	}
}

func TestChat_BadRequests(t *testing.T) {
	h := newTestServer(t, &fakeModel{content: "ok"}, nil).Handler()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{`, "invalid request body"},
		{"no message", `{"user_id":"Blaq01"}`, "message is required"},
		{"no id", `{"message":"hi"}`, "user_id or thread_id is required"},
		{"bad user id", `{"user_id":"B1","message":"hi"}`, "invalid user_id"},
		{"digits missing", `{"user_id":"blaqman","message":"hi"}`, "invalid user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/chat", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body %q missing %q", rec.Body, tt.want)
			}
		})
	}
}

func TestChat_ErrorStatus(t *testing.T) {
	t.Run("model down", func(t *testing.T) {
		h := newTestServer(t, &fakeModel{err: errors.New("connection refused")}, nil).Handler()
		rec := do(t, h, http.MethodPost, "/v1/chat", `{"thread_id":"t1","message":"hi"}`)
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "model call") {
			t.Errorf("body = %s", rec.Body)
		}
	})

	t.Run("store down", func(t *testing.T) {
		h := newTestServer(t, &fakeModel{content: "ok"}, brokenStore{}).Handler()
		rec := do(t, h, http.MethodPost, "/v1/chat", `{"thread_id":"t1","message":"hi"}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("load: %w", state.ErrUnavailable), http.StatusServiceUnavailable},
		{agent.ErrIterationLimit, http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("model call: boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestState_AndHistory(t *testing.T) {
	srv := newTestServer(t, &fakeModel{content: "Hello!"}, nil)
	h := srv.Handler()

	// Unknown thread: fresh defaults, not an error.
	rec := do(t, h, http.MethodGet, "/v1/state/Blaq01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	fresh := decode[struct {
		State    state.ConversationState `json:"state"`
		Greeting string                  `json:"greeting"`
	}](t, rec)
	if fresh.State.ThreadID != "thread_Blaq01" || fresh.State.Version != 0 {
		t.Errorf("fresh state = %+v", fresh.State)
	}
	if !strings.Contains(fresh.Greeting, "What is your name?") {
		t.Errorf("greeting = %q", fresh.Greeting)
	}

	for range 2 {
		if rec := do(t, h, http.MethodPost, "/v1/chat", `{"user_id":"Blaq01","message":"hi"}`); rec.Code != http.StatusOK {
			t.Fatalf("chat status = %d", rec.Code)
		}
	}

	rec = do(t, h, http.MethodGet, "/v1/state/thread_Blaq01", "")
	got := decode[struct {
		State state.ConversationState `json:"state"`
	}](t, rec)
	if got.State.Version != 2 || len(got.State.Messages) != 4 {
		t.Errorf("state version %d with %d messages", got.State.Version, len(got.State.Messages))
	}

	rec = do(t, h, http.MethodGet, "/v1/state/Blaq01/history?limit=1", "")
	hist := decode[struct {
		ThreadID string              `json:"thread_id"`
		Versions []state.VersionInfo `json:"versions"`
	}](t, rec)
	if hist.ThreadID != "thread_Blaq01" || len(hist.Versions) != 1 || hist.Versions[0].Version != 2 {
		t.Errorf("history = %+v", hist)
	}
}

func TestSession_StartAndReset(t *testing.T) {
	model := &fakeModel{
		content: "Hi Blaq!",
		calls: []llm.ToolCall{{ID: "c", Function: llm.FunctionCall{
			Name: "set_username", Arguments: map[string]any{"username": "Blaq"},
		}}},
	}
	srv := newTestServer(t, model, nil)
	bus := events.New()
	srv.SetEventBus(bus)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/session", `{"user_id":"Blaq01"}`)
	first := decode[SessionResponse](t, rec)
	if first.Returning || first.ThreadID != "thread_Blaq01" {
		t.Errorf("first session = %+v", first)
	}

	do(t, h, http.MethodPost, "/v1/chat", `{"user_id":"Blaq01","message":"I'm Blaq"}`)

	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)

	rec = do(t, h, http.MethodPost, "/v1/session/reset", `{"user_id":"Blaq01"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if srv.Sessions().Count() != 0 {
		t.Error("session still open after reset")
	}
	select {
	case ev := <-ch:
		if ev.Kind != events.KindSessionReset || ev.Data["user_id"] != "Blaq01" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("no session_reset event")
	}

	// The stored thread survives the reset.
	rec = do(t, h, http.MethodPost, "/v1/session", `{"user_id":"Blaq01"}`)
	again := decode[SessionResponse](t, rec)
	if !again.Returning || !strings.HasPrefix(again.Greeting, "Welcome back, Blaq!") {
		t.Errorf("returning session = %+v", again)
	}

	if rec := do(t, h, http.MethodPost, "/v1/session/reset", `{"user_id":"nope"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid reset status = %d", rec.Code)
	}
}

func TestUsage(t *testing.T) {
	srv := newTestServer(t, &fakeModel{content: "ok"}, nil)
	h := srv.Handler()

	if rec := do(t, h, http.MethodGet, "/v1/usage", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status = %d, want 503", rec.Code)
	}

	ledger, err := usage.NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("usage.NewStore: %v", err)
	}
	defer ledger.Close()
	srv.SetUsageStore(ledger)

	ctx := context.Background()
	_ = ledger.Record(ctx, usage.Record{Timestamp: time.Now(), ThreadID: "t", Model: "m", InputTokens: 100, OutputTokens: 20})
	_ = ledger.Record(ctx, usage.Record{Timestamp: time.Now(), ThreadID: "t", Model: "m", InputTokens: 50, OutputTokens: 5, Purpose: usage.PurposeSummary})

	rec := do(t, h, http.MethodGet, "/v1/usage?hours=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[struct {
		Total     usage.Summary            `json:"total"`
		ByPurpose map[string]usage.Summary `json:"by_purpose"`
	}](t, rec)
	if got.Total.TotalRecords != 2 || got.Total.TotalInputTokens != 150 {
		t.Errorf("total = %+v", got.Total)
	}
	if got.ByPurpose[usage.PurposeSummary].TotalRecords != 1 {
		t.Errorf("by_purpose = %+v", got.ByPurpose)
	}
}

func TestHealthAndVersion(t *testing.T) {
	model := &fakeModel{pingErr: errors.New("down")}
	h := newTestServer(t, model, nil).Handler()

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/health?deep=1", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("deep health = %d, want 503", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/v1/version", "")
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("go_version")) {
		t.Errorf("version = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/", ""); !strings.Contains(rec.Body.String(), "Aza Man") {
		t.Errorf("root = %s", rec.Body)
	}
}

func TestEvents_WebSocket(t *testing.T) {
	srv := newTestServer(t, &fakeModel{content: "ok"}, nil)
	bus := events.New()
	srv.SetEventBus(bus)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(events.SourceAgent, events.KindStateSaved, map[string]any{"thread_id": "thread_Blaq01", "version": 3})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Kind != events.KindStateSaved || ev.Data["thread_id"] != "thread_Blaq01" {
		t.Errorf("event = %+v", ev)
	}
}

func TestEvents_NotConfigured(t *testing.T) {
	h := newTestServer(t, &fakeModel{content: "ok"}, nil).Handler()
	if rec := do(t, h, http.MethodGet, "/v1/events", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestThreadLocks(t *testing.T) {
	l := newThreadLocks()
	unlock := l.lock("thread_a")

	acquired := make(chan struct{})
	go func() {
		u := l.lock("thread_a")
		close(acquired)
		u()
	}()

	// A different id is not blocked.
	l.lock("thread_b")()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}

	deadline := time.Now().Add(time.Second)
	for l.size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("locks not released, size = %d", l.size())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSessions(t *testing.T) {
	s := NewSessions()
	first, created := s.Bind("Blaq01")
	if !created || first.ThreadID != "thread_Blaq01" {
		t.Errorf("Bind = %+v, %v", first, created)
	}
	again, created := s.Bind("Blaq01")
	if created || again != first {
		t.Errorf("second Bind = %+v, %v", again, created)
	}
	if !s.Reset("Blaq01") || s.Reset("Blaq01") {
		t.Error("Reset should report the open session exactly once")
	}
	if _, ok := s.Lookup("Blaq01"); ok {
		t.Error("Lookup after Reset")
	}
}
