package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxreader/internal/observe"
	"github.com/MrWong99/voxreader/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxreader/pkg/provider/llm/mock"
)

const samplePage = `<!DOCTYPE html>
<html><head>
<link rel="stylesheet" href="/static/site.css">
<script src="js/app.js"></script>
</head><body>
<h1>Title</h1>
<p>First paragraph.</p>
<img src="/static/cat.png">
<a href="../about">About</a>
<a href="https://other.example/x">Other</a>
</body></html>`

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// upstream serves samplePage at /docs/page and records the User-Agent.
type upstream struct {
	*httptest.Server
	mu sync.Mutex
	ua string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.ua = r.Header.Get("User-Agent")
		u.mu.Unlock()
		if r.URL.Path != "/docs/page" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, samplePage)
	}))
	t.Cleanup(u.Close)
	return u
}

func newTestServer(t *testing.T, p llm.Provider, mutate func(*Config)) *httptest.Server {
	t.Helper()
	m := testMetrics(t)
	cfg := Config{
		Pages:   NewPageFetcher(http.DefaultClient, "voxreader-test", 5*time.Second, m),
		Text:    NewTextService(p, "mock", m),
		Metrics: m,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mux := http.NewServeMux()
	New(cfg).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestFetch_AbsolutizesAndSummarizes(t *testing.T) {
	t.Parallel()
	up := newUpstream(t)
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " A short page. "}}
	srv := newTestServer(t, p, nil)

	code, body := post(t, srv.URL+"/", `{"url":"`+up.URL+`/docs/page"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", code, body)
	}
	var got fetchResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	for _, want := range []string{
		`href="` + up.URL + `/static/site.css"`,
		`src="` + up.URL + `/docs/js/app.js"`,
		`src="` + up.URL + `/static/cat.png"`,
		`href="` + up.URL + `/about"`,
		`href="https://other.example/x"`,
	} {
		if !strings.Contains(got.HTML, want) {
			t.Errorf("html missing %s", want)
		}
	}
	if got.Summary != "A short page." {
		t.Errorf("summary = %q", got.Summary)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(calls))
	}
	if in := calls[0].Req.Messages[0].Content; in != "Title First paragraph." {
		t.Errorf("summary input = %q", in)
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if up.ua != "voxreader-test" {
		t.Errorf("User-Agent = %q", up.ua)
	}
}

func TestFetch_WithoutProvider(t *testing.T) {
	t.Parallel()
	up := newUpstream(t)
	srv := newTestServer(t, nil, nil)

	code, body := post(t, srv.URL+"/", `{"url":"`+up.URL+`/docs/page"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", code, body)
	}
	var got fetchResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Summary != "" || got.HTML == "" {
		t.Errorf("got summary %q, html %d bytes; want page without summary", got.Summary, len(got.HTML))
	}
}

func TestFetch_SummaryFailureStillReturnsPage(t *testing.T) {
	t.Parallel()
	up := newUpstream(t)
	srv := newTestServer(t, &llmmock.Provider{CompleteErr: errors.New("model down")}, nil)

	code, body := post(t, srv.URL+"/", `{"url":"`+up.URL+`/docs/page"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", code, body)
	}
	if !strings.Contains(body, `"summary":""`) {
		t.Errorf("body = %s, want empty summary", body)
	}
}

func TestFetch_Errors(t *testing.T) {
	t.Parallel()
	up := newUpstream(t)
	srv := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `url=x`, http.StatusBadRequest},
		{"missing url", `{}`, http.StatusBadRequest},
		{"not a url", `{"url":"hello"}`, http.StatusBadRequest},
		{"upstream 404", `{"url":"` + up.URL + `/missing"}`, http.StatusBadGateway},
		{"unreachable", `{"url":"http://127.0.0.1:1/"}`, http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if code, body := post(t, srv.URL+"/", tc.body); code != tc.want {
				t.Errorf("status = %d, want %d (body %q)", code, tc.want, body)
			}
		})
	}
}

func TestFetch_OnlyRootPath(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil)
	if code, _ := post(t, srv.URL+"/elsewhere", `{"url":"http://example.com"}`); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestTranslate(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "नमस्ते\n"}}
	srv := newTestServer(t, p, nil)

	code, body := post(t, srv.URL+"/translate", `{"text":"Hello","target_lang":"hi"}`)
	if code != http.StatusOK || body != "नमस्ते" {
		t.Fatalf("translate = %d %q, want 200 नमस्ते", code, body)
	}
	req := p.Calls()[0].Req
	if !strings.Contains(req.SystemPrompt, `"hi"`) {
		t.Errorf("system prompt %q does not name the target", req.SystemPrompt)
	}
	if req.Messages[0].Content != "Hello" {
		t.Errorf("user message = %q", req.Messages[0].Content)
	}
}

func TestTranslate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider llm.Provider
		body     string
		want     int
	}{
		{"missing text", &llmmock.Provider{}, `{"target_lang":"hi"}`, http.StatusBadRequest},
		{"missing target", &llmmock.Provider{}, `{"text":"Hello"}`, http.StatusBadRequest},
		{"bad target", &llmmock.Provider{}, `{"text":"Hello","target_lang":"not a language"}`, http.StatusBadRequest},
		{"no provider", nil, `{"text":"Hello","target_lang":"hi"}`, http.StatusServiceUnavailable},
		{"provider error", &llmmock.Provider{CompleteErr: errors.New("quota")}, `{"text":"Hello","target_lang":"hi"}`, http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, tc.provider, nil)
			if code, body := post(t, srv.URL+"/translate", tc.body); code != tc.want {
				t.Errorf("status = %d, want %d (body %q)", code, tc.want, body)
			}
		})
	}
}

func TestSummarize_ChunksInOrder(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteFunc: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		in := req.Messages[0].Content
		return &llm.CompletionResponse{Content: "S" + in[:1] + "/" + strconv.Itoa(len([]rune(in)))}, nil
	}}
	srv := newTestServer(t, p, nil)

	text := strings.Repeat("a", 400) + strings.Repeat("b", 400) + strings.Repeat("c", 100)
	code, body := post(t, srv.URL+"/summarize", `{"text":"`+text+`"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", code, body)
	}
	if want := "Sa/400 Sb/400 Sc/100"; body != want {
		t.Errorf("summary = %q, want %q", body, want)
	}
	if n := len(p.Calls()); n != 3 {
		t.Errorf("llm calls = %d, want 3", n)
	}
}

func TestSummarize_Errors(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &llmmock.Provider{CompleteErr: errors.New("boom")}, nil)
	if code, _ := post(t, srv.URL+"/summarize", `{}`); code != http.StatusBadRequest {
		t.Errorf("missing text: status = %d, want 400", code)
	}
	if code, _ := post(t, srv.URL+"/summarize", `{"text":"some words"}`); code != http.StatusBadGateway {
		t.Errorf("provider error: status = %d, want 502", code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &llmmock.Provider{}, func(c *Config) {
		c.RequestsPerSecond = 0.001
		c.Burst = 1
	})

	if code, _ := post(t, srv.URL+"/summarize", `{"text":"x"}`); code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", code)
	}
	if code, _ := post(t, srv.URL+"/summarize", `{"text":"x"}`); code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", code)
	}
}

func TestChunk(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{"empty", "", 4, nil},
		{"shorter than size", "abc", 4, []string{"abc"}},
		{"exact multiple", "abcdefgh", 4, []string{"abcd", "efgh"}},
		{"remainder", "abcdefghi", 4, []string{"abcd", "efgh", "i"}},
		{"multi-byte", "नमस्ते", 2, []string{"नम", "स्", "ते"}},
		{"zero size", "abc", 0, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Chunk(tc.text, tc.size)
			if len(got) != len(tc.want) {
				t.Fatalf("Chunk(%q, %d) = %q, want %q", tc.text, tc.size, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestTextService_CancelledContext(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteFunc: func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, context.Canceled
	}}
	s := NewTextService(p, "mock", testMetrics(t))
	if _, err := s.Translate(context.Background(), "x", "de"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
