package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/toscrape-books/internal/books"
	"github.com/JakeFAU/toscrape-books/internal/metrics"
)

// Config wires the optional collaborators of a Scraper. Nil fields fall back
// to books.Extract, no retries, no throttling and the system clock.
type Config struct {
	RunID    string
	Extract  ExtractFunc
	Retry    RetryPolicy
	Throttle Throttle
	Clock    Clock
}

// Scraper orchestrates one fetch task per URL.
type Scraper struct {
	runID    string
	fetcher  Fetcher
	limiter  Limiter
	extract  ExtractFunc
	retry    RetryPolicy
	throttle Throttle
	clock    Clock
	logger   *zap.Logger
}

// New constructs a Scraper. fetcher and limiter are shared by all tasks.
func New(cfg Config, fetcher Fetcher, limiter Limiter, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Extract == nil {
		cfg.Extract = ExtractBooks
	}
	if cfg.Retry == nil {
		cfg.Retry = noRetry{}
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	return &Scraper{
		runID:    cfg.RunID,
		fetcher:  fetcher,
		limiter:  limiter,
		extract:  cfg.Extract,
		retry:    cfg.Retry,
		throttle: cfg.Throttle,
		clock:    cfg.Clock,
		logger:   logger.With(zap.String("run_id", cfg.RunID)),
	}
}

// ExtractBooks is the default ExtractFunc.
func ExtractBooks(page Page) ([]books.Record, error) {
	return books.Extract(bytes.NewReader(page.Body))
}

// RunID identifies this scraper's run in logs and reports.
func (s *Scraper) RunID() string {
	return s.runID
}

// Run fetches every URL and waits for all tasks to finish. Individual
// failures are recorded in the Report and never returned; if ctx ends early,
// tasks still waiting for a slot fail fast and whatever was collected is kept.
func (s *Scraper) Run(ctx context.Context, urls []string) Report {
	started := s.clock.Now()
	s.logger.Info("scrape started", zap.Int("pages", len(urls)))

	collector := NewCollector(len(urls), s.logger)
	var wg sync.WaitGroup
	for _, rawURL := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			collector.Submit(s.runTask(ctx, u))
		}(rawURL)
	}
	wg.Wait()
	records, outcomes, failed := collector.Close()

	report := Report{
		RunID:    s.runID,
		Records:  records,
		Outcomes: outcomes,
		Pages:    len(urls),
		Failed:   failed,
		Started:  started,
		Elapsed:  s.clock.Now().Sub(started),
	}
	s.logger.Info("scrape finished",
		zap.Int("pages", report.Pages),
		zap.Int("failed", report.Failed),
		zap.Int("records", len(report.Records)),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report
}

func (s *Scraper) runTask(ctx context.Context, rawURL string) (out Outcome) {
	start := s.clock.Now()
	out.URL = rawURL
	defer func() {
		if r := recover(); r != nil {
			out.Records = nil
			out.Err = fmt.Errorf("task %s panicked: %v", rawURL, r)
		}
		out.Duration = s.clock.Now().Sub(start)
		if out.Err != nil {
			s.logger.Warn("page failed",
				zap.String("url", rawURL),
				zap.Int("attempts", out.Attempts),
				zap.Error(out.Err),
			)
		}
	}()

	records, attempts, err := s.scrapeWithRetry(ctx, rawURL)
	out.Attempts = attempts
	if err != nil {
		out.Err = err
		return out
	}
	for _, rec := range records {
		s.logger.Debug("grabbing book", zap.String("title", rec.Title))
	}
	s.logger.Info("page scraped",
		zap.String("url", rawURL),
		zap.Int("records", len(records)),
		zap.Int("attempts", attempts),
	)
	out.Records = records
	return out
}

func (s *Scraper) scrapeWithRetry(ctx context.Context, rawURL string) ([]books.Record, int, error) {
	for attempt := 1; ; attempt++ {
		records, err := s.scrapeOnce(ctx, rawURL)
		if err == nil {
			return records, attempt, nil
		}
		if ctx.Err() != nil || !s.retry.ShouldRetry(err, attempt) {
			return nil, attempt, err
		}

		wait := s.retry.Backoff(attempt)
		metrics.ObserveRetry()
		s.logger.Info("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return nil, attempt, errors.Join(err, sleepErr)
		}
	}
}

// scrapeOnce fetches and extracts one page while holding a limiter slot.
func (s *Scraper) scrapeOnce(ctx context.Context, rawURL string) ([]books.Record, error) {
	if s.throttle != nil {
		if err := s.throttle.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}
	var records []books.Record
	err := s.limiter.Do(ctx, func(ctx context.Context) error {
		start := s.clock.Now()
		page, err := s.fetcher.Fetch(ctx, rawURL)
		metrics.ObserveFetch(rawURL, s.clock.Now().Sub(start))
		if err != nil {
			return err
		}
		records, err = s.extract(page)
		if err != nil {
			return fmt.Errorf("extract %s: %w", rawURL, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
