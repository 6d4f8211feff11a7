// Package scraper は記事 URL を取得して本文テキストを取り出します
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/samber/mo"
	"golang.org/x/net/html"
)

const (
	// DefaultTimeout は 1 URL あたりの取得タイムアウト
	DefaultTimeout = 15 * time.Second

	// maxBodySize は読み込むレスポンスボディの上限
	maxBodySize = 32 << 20
)

// TrailingSections はこの見出し以降を本文から除外する
var TrailingSections = []string{"References", "Bibliography", "External links", "See also"}

var citationPattern = regexp.MustCompile(`\[\d+\]`)

// Fetcher は URL から本文テキストを取得する
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

type FetcherOption func(*Fetcher)

// WithFetcherLogger はロガーを設定する
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithHTTPClient は HTTP クライアントを差し替える
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithTimeout は取得タイムアウトを設定する。クライアントの他の設定は引き継ぐ
func WithTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if timeout > 0 {
			// 渡されたクライアントは書き換えない
			c := *f.client
			c.Timeout = timeout
			f.client = &c
		}
	}
}

// NewFetcher は新しい Fetcher を作成する
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: DefaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Fetch は url の本文テキストを返す。取得や解析に失敗した場合は警告を出して None を返す
func (f *Fetcher) Fetch(ctx context.Context, url string) mo.Option[string] {
	text, err := f.fetch(ctx, url)
	if err != nil {
		f.logger.Warn("failed to fetch article", "url", url, "error", err)
		return mo.None[string]()
	}
	if text == "" {
		f.logger.Warn("article has no text content", "url", url)
		return mo.None[string]()
	}
	f.logger.Info("fetched article", "url", url, "length", len(text))
	return mo.Some(text)
}

func (f *Fetcher) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "article-rag/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	if isPDF(resp.Header.Get("Content-Type"), req.URL.Path) {
		return ExtractPDF(body)
	}
	return ExtractArticle(bytes.NewReader(body))
}

func isPDF(contentType, urlPath string) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/pdf" {
		return true
	}
	return strings.EqualFold(path.Ext(urlPath), ".pdf")
}

// ExtractArticle は HTML から記事本文を取り出す。
// div.mw-parser-output（無ければ body）を対象に、参考文献などの末尾セクションと
// script/style を除き、テキストを空白区切りで連結して [n] 形式の注番号を取り除く。
func ExtractArticle(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	content := doc.Find("div.mw-parser-output").First()
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}
	if content.Length() == 0 {
		return "", nil
	}

	content.Find("script, style").Remove()
	for _, title := range TrailingSections {
		removeSection(content, title)
	}

	var parts []string
	for _, n := range content.Nodes {
		collectText(n, &parts)
	}
	return CleanText(strings.Join(parts, " ")), nil
}

// removeSection は id=title の見出しとそれ以降の兄弟要素を削除する
func removeSection(content *goquery.Selection, title string) {
	// MediaWiki は見出し id の空白を _ に置き換える
	anchor := content.Find(`[id="` + title + `"], [id="` + strings.ReplaceAll(title, " ", "_") + `"]`).First()
	if anchor.Length() == 0 {
		return
	}

	// 旧来の <h2><span id=...> と、新しい <div class="mw-heading"><h2 id=...> の両方を扱う
	heading := anchor
	if goquery.NodeName(anchor) == "span" || anchor.Parent().HasClass("mw-heading") {
		heading = anchor.Parent()
	}
	heading.NextAll().Remove()
	heading.Remove()
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*parts = append(*parts, s)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// CleanText は [1] のような注番号を取り除く
func CleanText(text string) string {
	return citationPattern.ReplaceAllString(text, "")
}

// ExtractPDF は PDF のテキストを取り出す
func ExtractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract PDF text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("failed to read PDF text: %w", err)
	}
	return strings.Join(strings.Fields(buf.String()), " "), nil
}
