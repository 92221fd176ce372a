package scraper_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/toscrape-books/internal/books"
	"github.com/JakeFAU/toscrape-books/internal/books/bookstest"
	"github.com/JakeFAU/toscrape-books/internal/limiter"
	"github.com/JakeFAU/toscrape-books/internal/scraper"
)

type fetchFunc func(ctx context.Context, rawURL string) (scraper.Page, error)

type stubFetcher struct {
	fn    fetchFunc
	calls sync.Map // url -> *atomic.Int32

	active atomic.Int32
	peak   atomic.Int32
}

func (s *stubFetcher) Fetch(ctx context.Context, rawURL string) (scraper.Page, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	counter, _ := s.calls.LoadOrStore(rawURL, new(atomic.Int32))
	counter.(*atomic.Int32).Add(1)
	return s.fn(ctx, rawURL)
}

func (s *stubFetcher) callsFor(rawURL string) int {
	v, ok := s.calls.Load(rawURL)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int32).Load())
}

func pageOf(rawURL string, products int) scraper.Page {
	return scraper.Page{URL: rawURL, StatusCode: http.StatusOK, Body: []byte(bookstest.Page(products))}
}

func catalogueURLs(t *testing.T, n int) []string {
	t.Helper()
	urls, err := books.PageURLs("https://books.example/page-%d.html", 1, n)
	require.NoError(t, err)
	return urls
}

// fastRetry retries up to max attempts with no backoff.
type fastRetry struct{ max int }

func (r fastRetry) ShouldRetry(err error, attempt int) bool {
	if attempt >= r.max {
		return false
	}
	var fe *scraper.FetchError
	return errors.As(err, &fe) && fe.StatusCode >= 500
}

func (fastRetry) Backoff(int) time.Duration { return 0 }

func TestRunCollectsEveryPage(t *testing.T) {
	t.Parallel()

	urls := catalogueURLs(t, 3)
	fetcher := &stubFetcher{fn: func(_ context.Context, u string) (scraper.Page, error) {
		return pageOf(u, 2), nil
	}}

	s := scraper.New(scraper.Config{RunID: "run-1"}, fetcher, limiter.New(4), nil)
	report := s.Run(context.Background(), urls)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 3, report.Pages)
	assert.Zero(t, report.Failed)
	assert.False(t, report.Partial())
	assert.Len(t, report.Outcomes, 3)
	require.Len(t, report.Records, 6)
	for _, rec := range report.Records {
		assert.NotEmpty(t, rec.Title)
		assert.True(t, strings.HasPrefix(rec.URL, "/book-"), rec.URL)
		assert.Equal(t, "Four", rec.Stars)
	}
}

func TestRunNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	const limit = 4
	urls := catalogueURLs(t, 50)
	fetcher := &stubFetcher{fn: func(_ context.Context, u string) (scraper.Page, error) {
		time.Sleep(5 * time.Millisecond)
		return pageOf(u, 1), nil
	}}
	lim := limiter.New(limit)

	report := scraper.New(scraper.Config{}, fetcher, lim, nil).Run(context.Background(), urls)

	assert.Len(t, report.Records, 50)
	assert.LessOrEqual(t, int(fetcher.peak.Load()), limit)
	assert.LessOrEqual(t, lim.Peak(), limit)
	assert.Zero(t, lim.InFlight())
}

func TestRunToleratesPartialFailure(t *testing.T) {
	t.Parallel()

	urls := catalogueURLs(t, 5)
	bad := urls[2]
	fetcher := &stubFetcher{fn: func(_ context.Context, u string) (scraper.Page, error) {
		if u == bad {
			return scraper.Page{}, &scraper.FetchError{URL: u, StatusCode: http.StatusNotFound, Err: errors.New("Not Found")}
		}
		return pageOf(u, 2), nil
	}}

	report := scraper.New(scraper.Config{}, fetcher, limiter.New(2), nil).Run(context.Background(), urls)

	assert.Len(t, report.Records, 8)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, report.Partial())
	assert.Equal(t, []string{bad}, report.FailedURLs())
}

func TestRunMalformedPageContributesNothing(t *testing.T) {
	t.Parallel()

	urls := catalogueURLs(t, 2)
	fetcher := &stubFetcher{fn: func(_ context.Context, u string) (scraper.Page, error) {
		if u == urls[0] {
			body := strings.Replace(bookstest.Page(3), `class="price_color"`, `class="price"`, 1)
			return scraper.Page{URL: u, Body: []byte(body)}, nil
		}
		return pageOf(u, 3), nil
	}}

	report := scraper.New(scraper.Config{}, fetcher, limiter.New(4), nil).Run(context.Background(), urls)

	assert.Len(t, report.Records, 3)
	require.Equal(t, []string{urls[0]}, report.FailedURLs())
	for _, o := range report.Outcomes {
		if o.URL == urls[0] {
			var structErr *books.StructureError
			assert.ErrorAs(t, o.Err, &structErr)
		}
	}
}

func TestRunRetriesServerErrors(t *testing.T) {
	t.Parallel()

	urls := catalogueURLs(t, 1)
	var attempts atomic.Int32
	fetcher := &stubFetcher{fn: func(_ context.Context, u string) (scraper.Page, error) {
		if attempts.Add(1) < 3 {
			return scraper.Page{}, &scraper.FetchError{URL: u, StatusCode: http.StatusServiceUnavailable, Err: errors.New("Service Unavailable")}
		}
		return pageOf(u, 2), nil
	}}

	cfg := scraper.Config{Retry: fastRetry{max: 3}}
	report := scraper.New(cfg, fetcher, limiter.New(1), nil).Run(context.Background(), urls)

	require.Len(t, report.Outcomes, 1)
	assert.True(t, report.Outcomes[0].OK())
	assert.Equal(t, 3, report.Outcomes[0].Attempts)
	assert.Len(t, report.Records, 2)
}

func TestRunDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	urls := catalogueURLs(t, 1)
	fetcher := &stubFetcher{fn: func(_ context.Context, u string) (scraper.Page, error) {
		return scraper.Page{}, &scraper.FetchError{URL: u, StatusCode: http.StatusNotFound, Err: errors.New("Not Found")}
	}}

	cfg := scraper.Config{Retry: scraper.NewExponentialRetryPolicy(2, time.Millisecond, time.Millisecond)}
	report := scraper.New(cfg, fetcher, limiter.New(1), nil).Run(context.Background(), urls)

	assert.Equal(t, 1, fetcher.callsFor(urls[0]))
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Outcomes[0].Attempts)
}

func TestRunKeepsRecordsCollectedBeforeCancel(t *testing.T) {
	t.Parallel()

	urls := catalogueURLs(t, 6)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var served atomic.Int32
	fetcher := &stubFetcher{fn: func(ctx context.Context, u string) (scraper.Page, error) {
		if served.Add(1) > 1 {
			cancel()
			<-ctx.Done()
			return scraper.Page{}, &scraper.FetchError{URL: u, Err: ctx.Err()}
		}
		return pageOf(u, 2), nil
	}}

	report := scraper.New(scraper.Config{}, fetcher, limiter.New(1), nil).Run(ctx, urls)

	assert.Len(t, report.Outcomes, 6)
	assert.Len(t, report.Records, 2)
	assert.Equal(t, 5, report.Failed)
}

func TestRunRecoversTaskPanic(t *testing.T) {
	t.Parallel()

	urls := catalogueURLs(t, 3)
	fetcher := &stubFetcher{fn: func(_ context.Context, u string) (scraper.Page, error) {
		return pageOf(u, 1), nil
	}}
	extract := func(p scraper.Page) ([]books.Record, error) {
		if p.URL == urls[1] {
			panic("bad page")
		}
		return scraper.ExtractBooks(p)
	}
	lim := limiter.New(2)

	report := scraper.New(scraper.Config{Extract: extract}, fetcher, lim, nil).Run(context.Background(), urls)

	assert.Len(t, report.Records, 2)
	require.Equal(t, []string{urls[1]}, report.FailedURLs())
	assert.Zero(t, lim.InFlight())
}

func TestRunEmptyURLList(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(context.Context, string) (scraper.Page, error) {
		return scraper.Page{}, fmt.Errorf("unexpected fetch")
	}}
	report := scraper.New(scraper.Config{}, fetcher, limiter.New(4), nil).Run(context.Background(), nil)

	assert.Zero(t, report.Pages)
	assert.Empty(t, report.Records)
	assert.NotEmpty(t, report.RunID)
}

type recordingThrottle struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (r *recordingThrottle) Wait(_ context.Context, rawURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, rawURL)
	return r.err
}

func TestRunWaitsOnThrottle(t *testing.T) {
	t.Parallel()

	urls := catalogueURLs(t, 4)
	fetcher := &stubFetcher{fn: func(_ context.Context, u string) (scraper.Page, error) {
		return pageOf(u, 1), nil
	}}
	throttle := &recordingThrottle{}

	report := scraper.New(scraper.Config{Throttle: throttle}, fetcher, limiter.New(4), nil).Run(context.Background(), urls)

	assert.Len(t, report.Records, 4)
	assert.ElementsMatch(t, urls, throttle.urls)
}

func TestRunThrottleErrorFailsPage(t *testing.T) {
	t.Parallel()

	urls := catalogueURLs(t, 2)
	fetcher := &stubFetcher{fn: func(_ context.Context, u string) (scraper.Page, error) {
		return pageOf(u, 1), nil
	}}
	throttle := &recordingThrottle{err: errors.New("rate limit wait: canceled")}

	report := scraper.New(scraper.Config{Throttle: throttle}, fetcher, limiter.New(4), nil).Run(context.Background(), urls)

	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 0, fetcher.callsFor(urls[0]))
}

func TestRunExtractsWhileHoldingSlot(t *testing.T) {
	t.Parallel()

	urls := catalogueURLs(t, 3)
	fetcher := &stubFetcher{fn: func(_ context.Context, u string) (scraper.Page, error) {
		return pageOf(u, 1), nil
	}}
	lim := limiter.New(1)
	var held atomic.Int32
	extract := func(p scraper.Page) ([]books.Record, error) {
		held.Add(int32(lim.InFlight()))
		return scraper.ExtractBooks(p)
	}

	report := scraper.New(scraper.Config{Extract: extract}, fetcher, lim, nil).Run(context.Background(), urls)

	assert.Len(t, report.Records, 3)
	assert.EqualValues(t, 3, held.Load())
	assert.Zero(t, lim.InFlight())
}
