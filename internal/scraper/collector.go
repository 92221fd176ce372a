package scraper

import (
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/toscrape-books/internal/books"
	"github.com/JakeFAU/toscrape-books/internal/metrics"
)

const defaultCollectorBuffer = 64

// Collector is the append-only result sink shared by every task. Submissions
// travel over a channel to one goroutine, which is the only writer of the
// record slice; each outcome's records are appended as one step.
type Collector struct {
	outcomes chan Outcome
	done     chan struct{}
	logger   *zap.Logger

	closeOnce sync.Once

	// Owned by the run goroutine until done is closed.
	records []books.Record
	results []Outcome
	failed  int
}

// NewCollector starts the collecting goroutine.
func NewCollector(buffer int, logger *zap.Logger) *Collector {
	if buffer <= 0 {
		buffer = defaultCollectorBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		outcomes: make(chan Outcome, buffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go c.run()
	return c
}

// Submit hands one task outcome to the collector. It must not be called after Close.
func (c *Collector) Submit(o Outcome) {
	c.outcomes <- o
}

// Close stops accepting outcomes, waits for the backlog to drain and returns
// everything collected. It is safe to call more than once.
func (c *Collector) Close() ([]books.Record, []Outcome, int) {
	c.closeOnce.Do(func() {
		close(c.outcomes)
	})
	<-c.done
	return c.records, c.results, c.failed
}

func (c *Collector) run() {
	defer close(c.done)
	for o := range c.outcomes {
		c.results = append(c.results, o)
		if !o.OK() {
			c.failed++
			metrics.ObservePage(metrics.StatusFailed, 0)
			continue
		}
		c.records = append(c.records, o.Records...)
		metrics.ObservePage(metrics.StatusSuccess, len(o.Records))
		c.logger.Debug("page collected",
			zap.String("url", o.URL),
			zap.Int("records", len(o.Records)),
			zap.Int("total", len(c.records)),
		)
	}
}
