package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// retryBaseDelay is the first backoff interval; each retry doubles it.
var retryBaseDelay = time.Second

const maxBodyBytes = 10 * 1024 * 1024 // 10 MiB

// poster sends JSON POST requests and retries transient failures.
type poster struct {
	retries int
	log     *zap.Logger
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// do posts body to url and returns the final status and response body. 429
// and 5xx responses and transport errors are retried with exponential
// backoff; any other status is returned to the caller as is.
func (p *poster) do(ctx context.Context, url string, header http.Header, body []byte) (int, []byte, error) {
	delay := retryBaseDelay
	for attempt := 0; ; attempt++ {
		status, resp, err := p.once(ctx, url, header, body)
		last := attempt >= p.retries
		switch {
		case err != nil && (last || ctx.Err() != nil):
			return 0, nil, err
		case err == nil && (!retryable(status) || last):
			return status, resp, nil
		}
		p.log.Warn("LLM request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Duration("delay", delay),
			zap.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, nil, ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}

func (p *poster) once(ctx context.Context, url string, header http.Header, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, data, nil
}
