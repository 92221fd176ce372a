// Package scraper runs the catalogue scrape: one task per page URL, each
// bounded by a shared concurrency limiter, fetching through the proxy-aware
// fetcher, extracting book records and handing them to a single collector.
// Failed pages are reported as outcomes; they never abort sibling tasks.
package scraper
