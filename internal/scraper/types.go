package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/toscrape-books/internal/books"
)

// Page is a fetched catalogue document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves one URL over the shared session.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// ExtractFunc turns a page body into records.
type ExtractFunc func(page Page) ([]books.Record, error)

// RetryPolicy decides whether and when a failed fetch is attempted again.
// attempt is the number of attempts already made.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Throttle spaces requests to the same host.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Limiter bounds how many tasks fetch at once.
type Limiter interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// FetchError is a failed fetch. StatusCode is zero for transport failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Outcome is the result of one page task.
type Outcome struct {
	URL      string
	Records  []books.Record
	Err      error
	Attempts int
	Duration time.Duration
}

// OK reports whether the task succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Report summarizes a run. Records holds everything collected, including
// records gathered before a cancellation.
type Report struct {
	RunID    string
	Records  []books.Record
	Outcomes []Outcome
	Pages    int
	Failed   int
	Started  time.Time
	Elapsed  time.Duration
}

// Partial reports whether any page failed.
func (r Report) Partial() bool {
	return r.Failed > 0
}

// FailedURLs lists the pages that produced no records due to an error.
func (r Report) FailedURLs() []string {
	var urls []string
	for _, o := range r.Outcomes {
		if !o.OK() {
			urls = append(urls, o.URL)
		}
	}
	return urls
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
