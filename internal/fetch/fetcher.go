package fetch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/quarryhq/quarry/internal/registry"
)

// Config tunes the fetcher.
type Config struct {
	// Timeout bounds one page retrieval. Zero picks 30s.
	Timeout time.Duration

	// Delay is the per-domain politeness delay between requests.
	Delay time.Duration

	// Parallelism caps concurrent requests per domain. Zero picks 2.
	Parallelism int

	// UserAgent identifies the crawler. Zero picks a quarry default.
	UserAgent string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 2
	}
	if c.UserAgent == "" {
		c.UserAgent = "quarry-crawler/1.0"
	}

	return c
}

// Fetcher retrieves source pages with colly and reduces them to readable
// content with go-readability. Safe for concurrent use; each Fetch runs its
// own collector.
type Fetcher struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a fetcher. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{cfg: cfg.withDefaults(), logger: logger}
}

// Fetch retrieves the source's base URL and returns its main content as
// text with fenced code blocks. All failure modes come back as *FetchError
// so callers can treat them uniformly as retryable.
func (f *Fetcher) Fetch(ctx context.Context, source *registry.Source) (string, error) {
	pageURL, err := url.Parse(source.BaseURL)
	if err != nil {
		return "", &FetchError{URL: source.BaseURL, Reason: "invalid url", Err: err}
	}

	body, err := f.retrieve(ctx, source.BaseURL)
	if err != nil {
		return "", err
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", &FetchError{URL: source.BaseURL, Reason: "unreadable content", Err: err}
	}

	doc, err := documentText(article.Content)
	if err != nil {
		return "", &FetchError{URL: source.BaseURL, Reason: "malformed content html", Err: err}
	}
	if doc == "" {
		return "", &FetchError{URL: source.BaseURL, Reason: "page had no extractable content"}
	}

	f.logger.Debug("page fetched",
		"url", source.BaseURL,
		"bytes", len(body),
		"title", article.Title)

	return doc, nil
}

// retrieve downloads one page body through colly, honoring the configured
// politeness limits.
func (f *Fetcher) retrieve(ctx context.Context, pageURL string) ([]byte, error) {
	c := colly.NewCollector(
		colly.UserAgent(f.cfg.UserAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(f.cfg.Timeout)

	err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: f.cfg.Parallelism,
		Delay:       f.cfg.Delay,
	})
	if err != nil {
		return nil, &FetchError{URL: pageURL, Reason: "limit rule", Err: err}
	}

	var (
		body     []byte
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		reason := "request failed"
		if r != nil && r.StatusCode != 0 {
			reason = fmt.Sprintf("status %d", r.StatusCode)
		}
		fetchErr = &FetchError{URL: pageURL, Reason: reason, Err: err}
	})

	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: pageURL, Reason: "canceled", Err: err}
	}

	if err := c.Visit(pageURL); err != nil {
		return nil, &FetchError{URL: pageURL, Reason: "visit", Err: err}
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(body) == 0 {
		return nil, &FetchError{URL: pageURL, Reason: "empty response body"}
	}

	return body, nil
}

// PageLinks lists same-host links found on a page, for future crawl
// expansion beyond a source's entry URL.
func (f *Fetcher) PageLinks(ctx context.Context, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Reason: "invalid url", Err: err}
	}

	body, err := f.retrieve(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{URL: pageURL, Reason: "parse html", Err: err}
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved, err := base.Parse(href)
		if err != nil || resolved.Host != base.Host {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})

	return links, nil
}
