// Package collyfetcher implements scraper.Fetcher using gocolly, routing every
// request through the configured forward proxy.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/toscrape-books/internal/scraper"
)

const defaultTimeout = 30 * time.Second

// ErrEmptyBody is reported for a successful status with no content.
var ErrEmptyBody = errors.New("empty response body")

// ProxyConnectError is a non-200 answer to the CONNECT request that opens an
// HTTPS tunnel through the proxy.
type ProxyConnectError struct {
	StatusCode int
	Status     string
}

func (e *ProxyConnectError) Error() string {
	return "proxy CONNECT refused: " + e.Status
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Proxy routes all requests; nil falls back to the environment proxy settings.
	Proxy *url.URL
	// MaxConnsPerHost sizes the idle pool; use the concurrency limit.
	MaxConnsPerHost int
}

// Fetcher implements scraper.Fetcher using the Colly collector. All fetches
// share one HTTP client and connection pool.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	opts := []colly.CollectorOption{
		colly.Async(false),
		// Retries visit the same URL again.
		colly.AllowURLRevisit(),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	// Every status reaches OnResponse; Fetch decides what counts as success.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport(cfg))
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// ProxyURL returns the redacted proxy address for logging, or "" when direct.
func (f *Fetcher) ProxyURL() string {
	if f.cfg.Proxy == nil {
		return ""
	}
	return f.cfg.Proxy.Redacted()
}

// Fetch executes a single HTTP GET using Colly. Any status outside 2xx,
// including a 407 from the proxy on CONNECT, is reported as a *scraper.FetchError
// carrying that status.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (scraper.Page, error) {
	var (
		page   scraper.Page
		status int
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, rawURL, time.Now(), &page, &status)

	finished, err := f.runCollector(ctx, collector, rawURL)
	if !finished {
		// The visit goroutine may still be running its hooks; page and status
		// are off limits.
		return scraper.Page{}, &scraper.FetchError{URL: rawURL, Err: err}
	}
	if err != nil {
		code := status
		var connectErr *ProxyConnectError
		if errors.As(err, &connectErr) {
			code = connectErr.StatusCode
		}
		return scraper.Page{}, &scraper.FetchError{URL: rawURL, StatusCode: code, Err: err}
	}
	if page.StatusCode/100 != 2 {
		return scraper.Page{}, &scraper.FetchError{
			URL:        rawURL,
			StatusCode: page.StatusCode,
			Err:        errors.New(http.StatusText(page.StatusCode)),
		}
	}
	if len(page.Body) == 0 {
		return scraper.Page{}, &scraper.FetchError{URL: rawURL, StatusCode: page.StatusCode, Err: ErrEmptyBody}
	}
	return page, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	rawURL string,
	start time.Time,
	page *scraper.Page,
	status *int,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.logger.Debug("fetching page", zap.String("url", r.URL.String()))
	})

	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*page = scraper.Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		f.logger.Debug("fetch error",
			zap.String("url", rawURL),
			zap.Int("status_code", *status),
			zap.Error(err),
		)
	})
}

// runCollector reports finished=false when ctx ended before the visit returned.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return true, fmt.Errorf("colly visit failed: %w", err)
		}
		return true, nil
	}
}

func newHTTPTransport(cfg Config) *http.Transport {
	proxy := http.ProxyFromEnvironment
	if cfg.Proxy != nil {
		proxy = http.ProxyURL(cfg.Proxy)
	}
	perHost := cfg.MaxConnsPerHost
	if perHost <= 0 {
		perHost = 4
	}
	return &http.Transport{
		Proxy: proxy,
		OnProxyConnectResponse: func(_ context.Context, _ *url.URL, _ *http.Request, resp *http.Response) error {
			if resp.StatusCode != http.StatusOK {
				return &ProxyConnectError{StatusCode: resp.StatusCode, Status: resp.Status}
			}
			return nil
		},
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
