package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxreader/internal/observe"
)

// maxPageBytes caps a fetched page.
const maxPageBytes = 8 << 20

// ErrUpstream marks failures of the page being fetched (transport errors and
// non-2xx answers), as opposed to invalid requests.
var ErrUpstream = errors.New("backend: upstream fetch failed")

// resourceAttrs lists the element/attribute pairs rewritten to absolute
// URLs so the page renders outside its origin.
var resourceAttrs = []struct{ selector, attr string }{
	{"link[href]", "href"},
	{"script[src]", "src"},
	{"img[src]", "src"},
	{"a[href]", "href"},
}

// Page is a fetched and rewritten document.
type Page struct {
	// URL is the final URL after redirects.
	URL string

	// HTML is the rewritten document.
	HTML string

	// Text is the readable text of the page's paragraphs and headings,
	// used as summary input.
	Text string
}

// PageFetcher downloads pages on behalf of the reader.
type PageFetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	metrics   *observe.Metrics
}

// NewPageFetcher returns a PageFetcher. client must not be nil.
func NewPageFetcher(client *http.Client, userAgent string, timeout time.Duration, m *observe.Metrics) *PageFetcher {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &PageFetcher{client: client, userAgent: userAgent, timeout: timeout, metrics: m}
}

// Fetch downloads rawURL and rewrites its resource references against the
// final URL.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "backend.fetch_page")
	start := time.Now()
	page, err := f.fetch(ctx, rawURL)
	status := "ok"
	if err != nil {
		status = "error"
	}
	f.metrics.FetchDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("side", "backend"), observe.Attr("status", status)))
	observe.EndSpan(span, err)
	return page, err
}

func (f *PageFetcher) fetch(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s answered %s", ErrUpstream, rawURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrUpstream, rawURL, err)
	}

	base := resp.Request.URL
	Absolutize(doc, base)

	markup, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("backend: render %s: %w", rawURL, err)
	}
	return &Page{URL: base.String(), HTML: markup, Text: readableText(doc)}, nil
}

// Absolutize rewrites link, script, image and anchor references in doc
// against base. References that do not parse are left as they are.
func Absolutize(doc *goquery.Document, base *url.URL) {
	for _, ra := range resourceAttrs {
		doc.Find(ra.selector).Each(func(_ int, s *goquery.Selection) {
			v, _ := s.Attr(ra.attr)
			ref, err := url.Parse(strings.TrimSpace(v))
			if err != nil {
				return
			}
			s.SetAttr(ra.attr, base.ResolveReference(ref).String())
		})
	}
}

// readableText joins the text of paragraphs and headings.
func readableText(doc *goquery.Document) string {
	var parts []string
	doc.Find("p, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " ")
}
