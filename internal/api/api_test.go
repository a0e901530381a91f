package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/uigen/internal/config"
	"github.com/gaspardpetit/uigen/internal/event"
	"github.com/gaspardpetit/uigen/internal/relay"
	"github.com/gaspardpetit/uigen/internal/upstream"
)

func sseChunk(content string) string {
	b, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": content}}}})
	return "data: " + string(b) + "\n\n"
}

const sseStop = `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n"

type harness struct {
	srv   *httptest.Server
	up    *httptest.Server
	calls atomic.Int32
	rl    *relay.Relay
}

func newHarness(t *testing.T, upstreamHandler http.HandlerFunc, mutate func(*config.ServerConfig)) *harness {
	t.Helper()
	h := &harness{}
	h.up = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.calls.Add(1)
		upstreamHandler(w, r)
	}))
	t.Cleanup(h.up.Close)

	cfg := &config.ServerConfig{UpstreamURL: h.up.URL, UpstreamAPIKey: "test-key"}
	cfg.SetDefaults()
	if mutate != nil {
		mutate(cfg)
	}
	uc := upstream.NewClient(cfg)
	uc.HTTP = h.up.Client()
	h.rl = relay.New(relay.Deps{Config: cfg, Upstream: uc, Logger: zerolog.Nop()})
	api, err := NewRouter(h.rl, time.Now())
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	r := chi.NewRouter()
	r.Mount("/api", api)
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(h.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readEvents(t *testing.T, r io.Reader) []event.Event {
	t.Helper()
	var out []event.Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		ev, ok, err := event.Decode(sc.Bytes())
		if err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		if ok {
			out = append(out, ev)
		}
	}
	return out
}

func errorBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func streamBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	h := newHarness(t, streamBody(sseStop), nil)
	for _, body := range []string{`{"prompt":""}`, `{"prompt":"   "}`, `{}`} {
		resp := h.post(t, "/api/generate", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, resp.StatusCode)
		}
		if msg := errorBody(t, resp); msg != "Prompt is required" {
			t.Fatalf("%s: error = %q", body, msg)
		}
	}
	if n := h.calls.Load(); n != 0 {
		t.Fatalf("upstream called %d times", n)
	}
}

func TestGenerateInvalidJSON(t *testing.T) {
	h := newHarness(t, streamBody(sseStop), nil)
	resp := h.post(t, "/api/generate", `{"prompt":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGenerateMissingKey(t *testing.T) {
	h := newHarness(t, streamBody(sseStop), func(c *config.ServerConfig) { c.UpstreamAPIKey = "" })
	resp := h.post(t, "/api/generate", `{"prompt":"a card"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if msg := errorBody(t, resp); !strings.HasPrefix(msg, "API key not configured") {
		t.Fatalf("error = %q", msg)
	}
	if n := h.calls.Load(); n != 0 {
		t.Fatalf("upstream called %d times", n)
	}
}

func TestGenerateDraining(t *testing.T) {
	h := newHarness(t, streamBody(sseStop), nil)
	h.rl.Deps().State.StartDrain()
	resp := h.post(t, "/api/generate", `{"prompt":"a card"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGenerateStream(t *testing.T) {
	var got upstream.ChatRequest
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for _, part := range []string{sseChunk("function"), "data: not-json\n\n", sseChunk(" App"), sseStop, "data: [DONE]\n\n"} {
			_, _ = io.WriteString(w, part)
			f.Flush()
		}
	}, nil)
	resp := h.post(t, "/api/generate", `{"prompt":"  a counter  "}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for k, want := range map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache, no-transform",
		"X-Accel-Buffering": "no",
	} {
		if v := resp.Header.Get(k); v != want {
			t.Errorf("%s = %q; want %q", k, v, want)
		}
	}
	if resp.Header.Get("X-Generation-Id") == "" {
		t.Errorf("missing generation id")
	}
	evs := readEvents(t, resp.Body)
	var code strings.Builder
	dones := 0
	for _, ev := range evs {
		switch ev.Stage {
		case event.StageCode:
			code.WriteString(ev.Content)
		case event.StageDone:
			dones++
			if ev.Timestamp.IsZero() {
				t.Errorf("done without timestamp")
			}
		case event.StageError:
			t.Fatalf("unexpected error event %q", ev.Error)
		}
	}
	if code.String() != "function App" || dones != 1 {
		t.Fatalf("code = %q dones = %d", code.String(), dones)
	}
	if evs[len(evs)-1].Stage != event.StageDone {
		t.Fatalf("last event = %+v", evs[len(evs)-1])
	}
	if got.Messages[1].Content != "Create a React component: a counter" || !got.Stream {
		t.Fatalf("upstream request = %+v", got)
	}
}

func TestGenerateUpstreamRejected(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}, nil)
	resp := h.post(t, "/api/generate", `{"prompt":"x"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	msg := errorBody(t, resp)
	if !strings.Contains(msg, "401") || !strings.Contains(msg, "invalid api key") {
		t.Fatalf("error = %q", msg)
	}
}

func TestGenerateUpstreamUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {}, func(c *config.ServerConfig) {
		c.UpstreamURL = deadURL
	})
	resp := h.post(t, "/api/generate", `{"prompt":"x"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if msg := errorBody(t, resp); msg == "" {
		t.Fatalf("empty error message")
	}
}

func TestGenerateMidStreamFailure(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		body := sseChunk("const x")
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Content-Length", "4096")
		_, _ = io.WriteString(w, body)
	}, nil)
	resp := h.post(t, "/api/generate", `{"prompt":"x"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	evs := readEvents(t, resp.Body)
	if len(evs) != 2 || evs[0] != event.Code("const x") || evs[1].Stage != event.StageError {
		t.Fatalf("events = %+v", evs)
	}
	if !strings.HasPrefix(evs[1].Error, relay.MsgInterrupted) {
		t.Fatalf("error = %q", evs[1].Error)
	}
}

func TestGenerateSilentClose(t *testing.T) {
	h := newHarness(t, streamBody(sseChunk("<div/>")), nil)
	evs := readEvents(t, h.post(t, "/api/generate", `{"prompt":"x"}`).Body)
	if len(evs) != 2 || evs[1].Stage != event.StageDone {
		t.Fatalf("events = %+v", evs)
	}

	h = newHarness(t, streamBody("data: [DONE]\n\n"), nil)
	evs = readEvents(t, h.post(t, "/api/generate", `{"prompt":"x"}`).Body)
	if len(evs) != 1 || evs[0] != event.Failure(relay.MsgNoCode) {
		t.Fatalf("events = %+v", evs)
	}
}

func TestGenerateClientAbortCancelsUpstream(t *testing.T) {
	upstreamGone := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseChunk("partial"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(upstreamGone)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, h.srv.URL+"/api/generate", strings.NewReader(`{"prompt":"x"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || !strings.Contains(line, `"partial"`) {
		t.Fatalf("first line = %q, %v", line, err)
	}
	cancel()
	_ = resp.Body.Close()

	select {
	case <-upstreamGone:
	case <-time.After(3 * time.Second):
		t.Fatalf("upstream request was not cancelled")
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.rl.Deps().Inflight.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("generation still in flight")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGenerateWebSocket(t *testing.T) {
	h := newHarness(t, streamBody(sseChunk("function")+sseChunk(" Card")+sseStop), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/generate/ws"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.CloseNow() }()
	if err := c.Write(ctx, websocket.MessageText, []byte(`{"prompt":"card"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var evs []event.Event
	for {
		_, b, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("read: %v", err)
			}
			break
		}
		var ev event.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		evs = append(evs, ev)
	}
	if len(evs) != 3 || evs[0].Content+evs[1].Content != "function Card" || evs[2].Stage != event.StageDone {
		t.Fatalf("events = %+v", evs)
	}
}

func TestGenerateWebSocketRejected(t *testing.T) {
	h := newHarness(t, streamBody(sseStop), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.srv.URL, "http")+"/api/generate/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.CloseNow() }()
	_ = c.Write(ctx, websocket.MessageText, []byte(`{"prompt":" "}`))
	_, b, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev event.Event
	_ = json.Unmarshal(b, &ev)
	if ev != event.Failure(relay.MsgPromptRequired) {
		t.Fatalf("event = %+v", ev)
	}
	if h.calls.Load() != 0 {
		t.Fatalf("upstream called")
	}
}

func TestGenerateWebSocketUpstreamRejected(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.srv.URL, "http")+"/api/generate/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.CloseNow() }()
	_ = c.Write(ctx, websocket.MessageText, []byte(`{"prompt":"card"}`))
	_, b, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev event.Event
	_ = json.Unmarshal(b, &ev)
	if ev.Stage != event.StageError || !strings.Contains(ev.Error, "401") {
		t.Fatalf("event = %+v", ev)
	}
}

func TestPreviewHandler(t *testing.T) {
	h := newHarness(t, streamBody(sseStop), func(c *config.ServerConfig) { c.MaxCodeLength = 100 })

	resp := h.post(t, "/api/preview", `{"code":"function Hero() { return <h1/> }"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		ComponentName string `json:"componentName"`
		Source        string `json:"source"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.ComponentName != "Hero" || !strings.Contains(out.Source, "<Hero />") {
		t.Fatalf("harness = %+v", out.ComponentName)
	}

	if resp := h.post(t, "/api/preview", `{"code":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty code status = %d", resp.StatusCode)
	}
	long, _ := json.Marshal(map[string]string{"code": strings.Repeat("x", 101)})
	if resp := h.post(t, "/api/preview", string(long)); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("long code status = %d", resp.StatusCode)
	}
}

func TestExamplesAndOpenAPI(t *testing.T) {
	h := newHarness(t, streamBody(sseStop), nil)

	resp, err := http.Get(h.srv.URL + "/api/examples")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var ex map[string][]string
	_ = json.NewDecoder(resp.Body).Decode(&ex)
	if len(ex["examples"]) != len(ExamplePrompts) {
		t.Fatalf("examples = %v", ex)
	}

	resp2, err := http.Get(h.srv.URL + "/api/openapi.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var doc map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/api/generate"]; !ok {
		t.Fatalf("openapi paths = %v", paths)
	}
}

func TestStateHandler(t *testing.T) {
	h := newHarness(t, streamBody(sseStop), nil)
	d := h.rl.Deps()
	d.State.SetStatus("ready")
	d.Inflight.Inc()
	defer d.Inflight.Dec()
	sh := &StateHandler{State: d.State, Inflight: d.Inflight, Started: time.Now(), Log: zerolog.Nop(),
		Host: func() (*HostStats, error) { return &HostStats{Load1: 0.5}, nil }}
	rr := httptest.NewRecorder()
	sh.GetState(rr, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	var st StateResponse
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Status != "ready" || st.Inflight != 1 || st.Host == nil || st.Host.Load1 != 0.5 {
		t.Fatalf("state = %+v", st)
	}

	rr = httptest.NewRecorder()
	HealthHandler(d.State)(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	d.State.StartDrain()
	rr = httptest.NewRecorder()
	HealthHandler(d.State)(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz while draining = %d", rr.Code)
	}
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"http://localhost:3000", "https://app.example.com/", "example.org"})
	want := []string{"localhost:3000", "app.example.com", "example.org"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns = %v", got)
	}
	if p := originPatterns([]string{"x", "*"}); len(p) != 1 || p[0] != "*" {
		t.Fatalf("wildcard = %v", p)
	}
}
