package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultRetryWaitMin = 200 * time.Millisecond
	defaultRetryWaitMax = 2 * time.Second
	maxErrorBody        = 4 << 10
)

// HTTPOptions configures JSON delivery to a webhook endpoint.
// Connection errors, 429 and 5xx responses are retried up to RetryLimit times.
type HTTPOptions struct {
	Timeout      time.Duration
	RetryLimit   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Poster sends JSON documents with retries.
type Poster struct {
	name   string
	client *retryablehttp.Client
}

// NewPoster builds a Poster. name prefixes delivery errors, e.g. "slack webhook".
func NewPoster(name string, opts HTTPOptions) *Poster {
	rc := retryablehttp.NewClient()
	rc.RetryMax = max(opts.RetryLimit, 0)
	rc.RetryWaitMin = cmpDuration(opts.RetryWaitMin, defaultRetryWaitMin)
	rc.RetryWaitMax = cmpDuration(opts.RetryWaitMax, defaultRetryWaitMax)
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.HTTPClient != nil {
		rc.HTTPClient = opts.HTTPClient
	} else {
		rc.HTTPClient.Timeout = cmpDuration(opts.Timeout, defaultTimeout)
	}
	if opts.Logger != nil {
		rc.Logger = opts.Logger.With("sink", name)
	} else {
		rc.Logger = nil
	}
	return &Poster{name: name, client: rc}
}

func cmpDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

// PostJSON posts the encoded document to url. Non-2xx responses become errors carrying the
// status and the start of the response body.
func (p *Poster) PostJSON(ctx context.Context, url string, body []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		return fmt.Errorf("%s %s: read body: %w", p.name, resp.Status, readErr)
	}
	return fmt.Errorf("%s %s: %s", p.name, resp.Status, strings.TrimSpace(string(msg)))
}
