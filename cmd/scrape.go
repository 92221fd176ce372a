package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/toscrape-books/internal/books"
	"github.com/JakeFAU/toscrape-books/internal/config"
	"github.com/JakeFAU/toscrape-books/internal/export"
	collyfetcher "github.com/JakeFAU/toscrape-books/internal/fetcher/colly"
	"github.com/JakeFAU/toscrape-books/internal/limiter"
	"github.com/JakeFAU/toscrape-books/internal/metrics"
	"github.com/JakeFAU/toscrape-books/internal/policy/ratelimit"
	"github.com/JakeFAU/toscrape-books/internal/proxy"
	"github.com/JakeFAU/toscrape-books/internal/scraper"
)

// ErrPartialRun is returned in strict mode when any page failed.
var ErrPartialRun = errors.New("some pages failed")

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the catalogue and export it to CSV",
		Long: `Fetches every catalogue page in the configured range through the proxy,
extracts title, url, price and star rating for each book and overwrites the
export file. Failed pages are logged and skipped; whatever was collected is
always exported.`,
		RunE: runScrapeCommand,
	}
	cmd.Flags().Int("concurrency", limiter.DefaultLimit, "maximum pages fetched at once")
	cmd.Flags().Int("pages-from", 1, "first catalogue page")
	cmd.Flags().Int("pages-to", 50, "last catalogue page")
	cmd.Flags().String("out", "scraped-books.csv", "CSV output path")
	cmd.Flags().Bool("strict", false, "exit non-zero when any page fails")
	return cmd
}

func runScrapeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()
	start := time.Now()

	urls, err := books.PageURLs(cfg.Scrape.URLTemplate, cfg.Scrape.FirstPage, cfg.Scrape.LastPage)
	if err != nil {
		return fmt.Errorf("build page urls: %w", err)
	}

	report, setupErr := scrapeCatalogue(cmd.Context(), cfg, urls, logger)
	if setupErr != nil {
		logger.Error("scrape setup failed, exporting empty result", zap.Error(setupErr))
	}

	summary, err := export.CSV{
		Path:    cfg.Export.Path,
		BaseURL: cfg.Export.BaseURL,
		Logger:  logger.Named("export"),
	}.Write(report.Records)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("metrics textfile not written", zap.Error(err))
		}
	}

	elapsed := time.Since(start)
	logger.Info("scrape command finished",
		zap.String("run_id", report.RunID),
		zap.Int("records", summary.Rows),
		zap.Int("failed_pages", report.Failed),
		zap.Duration("elapsed", elapsed),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Scraped %d books from %d pages (%d failed) in %s; wrote %s\n",
		summary.Rows, report.Pages, report.Failed, elapsed.Round(time.Millisecond), summary.Path)

	if cfg.Scrape.Strict {
		if setupErr != nil {
			return setupErr
		}
		if report.Partial() {
			return fmt.Errorf("%w: %d of %d pages", ErrPartialRun, report.Failed, report.Pages)
		}
	}
	return nil
}

// scrapeCatalogue builds the shared session and runs every page task. An
// error means the session could not be built and nothing was fetched.
func scrapeCatalogue(ctx context.Context, cfg config.Config, urls []string, logger *zap.Logger) (scraper.Report, error) {
	proxyURL, err := resolveProxy(cfg, logger)
	if err != nil {
		return scraper.Report{Pages: len(urls)}, err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:       cfg.Scrape.UserAgent,
		Timeout:         cfg.RequestTimeout(),
		Proxy:           proxyURL,
		MaxConnsPerHost: cfg.Scrape.Concurrency,
	}, logger.Named("fetcher"))
	if proxyURL != nil {
		logger.Info("routing through proxy", zap.String("proxy", fetcher.ProxyURL()))
	}

	s := scraper.New(scraper.Config{
		Retry: scraper.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries, cfg.BackoffInitial(), cfg.BackoffMax()),
		Throttle: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Scrape.RatePerSecond,
			DefaultBurst: cfg.Scrape.Burst,
		}),
	}, fetcher, limiter.New(cfg.Scrape.Concurrency), logger.Named("scraper"))

	return s.Run(ctx, urls), nil
}

// resolveProxy returns nil, with a warning, when no proxy is configured.
func resolveProxy(cfg config.Config, logger *zap.Logger) (*url.URL, error) {
	endpoint := proxy.Endpoint{
		URL:      cfg.Proxy.URL,
		Address:  cfg.Proxy.Address,
		Username: cfg.Proxy.Username,
		Password: cfg.Proxy.Password,
	}
	u, err := endpoint.Resolve()
	switch {
	case errors.Is(err, proxy.ErrNoProxy):
		logger.Warn("no proxy configured, connecting directly")
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("resolve proxy: %w", err)
	}
	return u, nil
}
