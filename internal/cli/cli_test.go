package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaspardpetit/uigen/internal/event"
)

func relayStub(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func sse(t *testing.T, evs ...event.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Generation-Id", "g-1")
		for _, ev := range evs {
			assert.NoError(t, event.Encode(w, ev))
		}
	}
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestGenerateStreamsCode(t *testing.T) {
	url := relayStub(t, sse(t, event.Code("function"), event.Code(" App() {}"), event.Done(time.Now())))
	out, errOut, err := run(t, "generate", "--server", url, "a", "button")
	require.NoError(t, err)
	assert.Equal(t, "function App() {}\n", out)
	assert.Contains(t, errOut, "App generated successfully!")
	assert.Contains(t, errOut, "g-1")
}

func TestGenerateQuietWithHarness(t *testing.T) {
	url := relayStub(t, sse(t, event.Code("function Card() {}"), event.Done(time.Now())))
	path := filepath.Join(t.TempDir(), "harness.jsx")
	out, errOut, err := run(t, "generate", "-s", url, "-q", "--harness-out", path, "card")
	require.NoError(t, err)
	assert.Equal(t, "function Card() {}\n", out)
	assert.Empty(t, errOut)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "<Card />")
}

func TestGenerateHighlight(t *testing.T) {
	url := relayStub(t, sse(t, event.Code("const x = 1;"), event.Done(time.Now())))
	out, _, err := run(t, "generate", "-s", url, "--highlight", "x")
	require.NoError(t, err)
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "const")
}

func TestGenerateErrorEvent(t *testing.T) {
	url := relayStub(t, sse(t, event.Failure("No code was generated")))
	_, _, err := run(t, "generate", "-s", url, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No code was generated")
}

func TestGenerateRelayRejects(t *testing.T) {
	url := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"API key not configured. Please add CEREBRAS_API_KEY to your environment variables."}`)
	})
	_, _, err := run(t, "generate", "-s", url, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not configured")
}

func TestServerFromEnv(t *testing.T) {
	url := relayStub(t, sse(t, event.Code("ok"), event.Done(time.Now())))
	t.Setenv("UIGEN_SERVER", url)
	out, _, err := run(t, "generate", "-q", "x")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestServerFromConfigFile(t *testing.T) {
	url := relayStub(t, sse(t, event.Code("cfg"), event.Done(time.Now())))
	path := filepath.Join(t.TempDir(), "uigen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: "+url+"\nquiet: true\n"), 0o600))
	out, _, err := run(t, "--config", path, "generate", "x")
	require.NoError(t, err)
	assert.Equal(t, "cfg\n", out)
}

func TestExamples(t *testing.T) {
	url := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/examples", r.URL.Path)
		_, _ = io.WriteString(w, `{"examples":["a todo list","a login page"]}`)
	})
	out, _, err := run(t, "examples", "-s", url)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "a login page")
}

func TestPreviewCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hero.jsx")
	require.NoError(t, os.WriteFile(src, []byte("function Hero() { return <h1>Hi</h1>; }"), 0o600))
	out, _, err := run(t, "preview", src)
	require.NoError(t, err)
	assert.Contains(t, out, "<Hero />")

	empty := filepath.Join(dir, "empty.jsx")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, _, err = run(t, "preview", empty)
	assert.Error(t, err)
}

func TestHighlightPlainFallback(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Highlight(&buf, "function A() {}"))
	assert.Contains(t, buf.String(), "function")
}

func TestGenerateTimeoutIsAnError(t *testing.T) {
	release := make(chan struct{})
	url := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		assert.NoError(t, event.Encode(w, event.Code("const")))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)
	_, errOut, err := run(t, "generate", "-s", url, "--timeout", "200ms", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Request timed out")
	assert.NotContains(t, errOut, "Generation stopped")
}
