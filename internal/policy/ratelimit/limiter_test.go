package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms; burst 1 spends the initial token at once.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://books.toscrape.com/catalogue/page-1.html"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "https://books.toscrape.com/catalogue/page-2.html"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentDomains(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.com/1"); err != nil {
		t.Fatal(err)
	}

	// Domain B should not be blocked by A
	start := time.Now()
	if err := l.Wait(ctx, "https://b.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("domain B blocked unexpectedly")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx, "https://books.toscrape.com/"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("zero rate should not throttle")
	}
}

func TestLimiter_WaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	if err := l.Wait(context.Background(), "https://slow.test/"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://slow.test/"); err == nil {
		t.Fatal("expected wait to fail once the context ends")
	}
}
