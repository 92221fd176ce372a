package proxy

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Prober performs a single GET through the proxy and returns the body. It is
// used to confirm that credentials are accepted before a long run.
type Prober struct {
	client *resty.Client
	logger *zap.Logger
}

// NewProber builds a resty client routed through proxyURL. A nil proxyURL
// means a direct connection.
func NewProber(proxyURL *url.URL, timeout time.Duration, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().SetTimeout(timeout)
	if proxyURL != nil {
		client.SetProxy(proxyURL.String())
	}
	return &Prober{client: client, logger: logger}
}

// Probe fetches target and returns the response body as text.
func (p *Prober) Probe(ctx context.Context, target string) (string, error) {
	start := time.Now()
	resp, err := p.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", target, err)
	}
	p.logger.Debug("probe response",
		zap.String("url", target),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("dur", time.Since(start)),
	)
	if resp.IsError() {
		return "", fmt.Errorf("probe %s: unexpected status %s", target, resp.Status())
	}
	return resp.String(), nil
}
