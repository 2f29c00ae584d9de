package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/smallbiznis/paybridge/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrUnreachable means the request never left: connection refused or
	// DNS failure. The provider cannot have seen it.
	ErrUnreachable = errors.New("provider_unreachable")
	// ErrInterrupted means the request may have reached the provider but
	// no usable response arrived (timeout, reset, 5xx). The side effect
	// may still have happened; callers must not infer failure.
	ErrInterrupted = errors.New("provider_call_interrupted")
)

// Client performs outbound provider calls with a bounded timeout and a small
// number of retries for transport-level failures only. Provider business
// errors are never retried here; they surface through the response body.
type Client struct {
	http    *http.Client
	retries int
	log     *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) *Client {
	timeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.ProviderRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		retries: retries,
		log:     log.Named("provider.transport"),
	}
}

func (c *Client) PostJSON(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.post(ctx, endpoint, "application/json", body)
}

func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	return c.post(ctx, endpoint, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

func (c *Client) post(ctx context.Context, endpoint, contentType string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
			case <-time.After(backoff):
			}
			c.log.Warn("retrying provider call",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
		}

		resp, err := c.once(ctx, endpoint, contentType, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnreachable) && !errors.Is(err, ErrInterrupted) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, endpoint, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: provider http %d", ErrInterrupted, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}

// classify separates failures where the request provably never reached the
// provider from ones where the outcome is unknown.
func classify(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrInterrupted, err)
}
