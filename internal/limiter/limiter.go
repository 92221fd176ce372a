// Package limiter caps the number of fetches in flight at once.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/toscrape-books/internal/metrics"
)

// DefaultLimit matches the catalogue scraper's historical fan-out.
const DefaultLimit = 4

// Limiter admits at most Limit holders at a time. Waiters are admitted in
// arrival order once a holder releases.
type Limiter struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
	peakMu   sync.Mutex
	peak     int64
}

// New returns a Limiter for n concurrent holders; n <= 0 selects DefaultLimit.
func New(n int) *Limiter {
	if n <= 0 {
		n = DefaultLimit
	}
	return &Limiter{
		sem:   semaphore.NewWeighted(int64(n)),
		limit: int64(n),
	}
}

// Limit returns the configured capacity.
func (l *Limiter) Limit() int {
	return int(l.limit)
}

// Acquire blocks until a slot is free or ctx ends. The returned release func
// is idempotent.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire fetch slot: %w", err)
	}
	l.enter()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.exit()
			l.sem.Release(1)
		})
	}, nil
}

// Do runs fn while holding a slot. The slot is released on every exit path.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// InFlight reports the current number of holders.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Peak reports the highest number of simultaneous holders observed.
func (l *Limiter) Peak() int {
	l.peakMu.Lock()
	defer l.peakMu.Unlock()
	return int(l.peak)
}

func (l *Limiter) enter() {
	n := l.inFlight.Add(1)
	metrics.IncInFlight()
	l.peakMu.Lock()
	if n > l.peak {
		l.peak = n
	}
	l.peakMu.Unlock()
}

func (l *Limiter) exit() {
	l.inFlight.Add(-1)
	metrics.DecInFlight()
}
