package scraper

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<html><head><title>Paris</title><style>.x{}</style></head><body>
<div id="sidebar">Navigation menu</div>
<div class="mw-parser-output">
  <p>Paris is the <b>capital</b> of France.[1]</p>
  <script>var tracking = 1;</script>
  <p>It has   many museums.[23]</p>
  <h2><span class="mw-headline" id="See_also">See also</span></h2>
  <ul><li>Lyon</li></ul>
  <h2><span id="References">References</span></h2>
  <p>Some citation</p>
</div>
</body></html>`

const modernHeadingHTML = `<html><body><div class="mw-parser-output">
  <p>Go is a programming language.</p>
  <div class="mw-heading mw-heading2"><h2 id="References">References</h2></div>
  <ol><li>Cited work</li></ol>
</div></body></html>`

func TestExtractArticle(t *testing.T) {
	text, err := ExtractArticle(strings.NewReader(articleHTML))
	require.NoError(t, err)

	assert.Equal(t, "Paris is the capital of France. It has   many museums.", text)
}

func TestExtractArticleModernHeadings(t *testing.T) {
	text, err := ExtractArticle(strings.NewReader(modernHeadingHTML))
	require.NoError(t, err)

	assert.Equal(t, "Go is a programming language.", text)
}

func TestExtractArticleFallsBackToBody(t *testing.T) {
	text, err := ExtractArticle(strings.NewReader(`<html><body><p>Plain page[4]</p></body></html>`))
	require.NoError(t, err)

	assert.Equal(t, "Plain page", text)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b [x] c", CleanText("a[1] b[12] [x] c"))
}

func newTestFetcher(logs *bytes.Buffer) *Fetcher {
	return NewFetcher(
		WithTimeout(time.Second),
		WithFetcherLogger(slog.New(slog.NewTextHandler(logs, nil))),
	)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wiki/Paris":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, articleHTML)
		case "/slow":
			time.Sleep(2 * time.Second)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run("成功", func(t *testing.T) {
		var logs bytes.Buffer
		got := newTestFetcher(&logs).Fetch(context.Background(), srv.URL+"/wiki/Paris")

		text, ok := got.Get()
		require.True(t, ok)
		assert.Contains(t, text, "capital of France")
	})

	t.Run("404は None", func(t *testing.T) {
		var logs bytes.Buffer
		got := newTestFetcher(&logs).Fetch(context.Background(), srv.URL+"/missing")

		assert.True(t, got.IsAbsent())
		assert.Contains(t, logs.String(), "level=WARN")
	})

	t.Run("タイムアウトは None", func(t *testing.T) {
		var logs bytes.Buffer
		got := newTestFetcher(&logs).Fetch(context.Background(), srv.URL+"/slow")

		assert.True(t, got.IsAbsent())
	})

	t.Run("不正な URL は None", func(t *testing.T) {
		var logs bytes.Buffer
		got := newTestFetcher(&logs).Fetch(context.Background(), "://bad")

		assert.True(t, got.IsAbsent())
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestWithTimeoutKeepsHTTPClient(t *testing.T) {
	var requests []string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		requests = append(requests, r.URL.String())
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
			Body:       io.NopCloser(strings.NewReader(articleHTML)),
			Request:    r,
		}, nil
	})}

	tests := []struct {
		name string
		opts []FetcherOption
	}{
		{name: "クライアントの後にタイムアウト", opts: []FetcherOption{WithHTTPClient(client), WithTimeout(3 * time.Second)}},
		{name: "タイムアウトの後にクライアント", opts: []FetcherOption{WithTimeout(3 * time.Second), WithHTTPClient(client)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests = nil
			f := NewFetcher(tt.opts...)

			text, ok := f.Fetch(context.Background(), "https://example.com/wiki/Paris").Get()
			require.True(t, ok)
			assert.Contains(t, text, "capital of France")
			assert.Equal(t, []string{"https://example.com/wiki/Paris"}, requests)
		})
	}

	f := NewFetcher(WithHTTPClient(client), WithTimeout(3*time.Second))
	assert.Equal(t, 3*time.Second, f.client.Timeout)
	assert.Zero(t, client.Timeout, "渡したクライアントは変更しない")
}

func TestExtractPDFRejectsInvalidData(t *testing.T) {
	_, err := ExtractPDF([]byte("not a pdf"))
	assert.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF("application/pdf", "/doc"))
	assert.True(t, isPDF("", "/paper.PDF"))
	assert.False(t, isPDF("text/html; charset=utf-8", "/wiki/Paris"))
}
