// Package shopify implements the Admin GraphQL API client used by the reorder pipeline.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	apperrors "github.com/acme/shelfsort/internal/errors"
)

const (
	defaultAPIVersion      = "2025-01"
	defaultTimeout         = 30 * time.Second
	defaultBusyRetry       = 2 * time.Second
	defaultMaxThrottleWait = 5 * time.Second
	defaultLowWatermark    = 100
	maxErrorBody           = 4 << 10
)

// Config configures a Client.
type Config struct {
	APIVersion string
	Timeout    time.Duration
	// BaseURL replaces https://{shop} when set. Used by tests and proxies.
	BaseURL string
	// LowWatermark is the remaining query budget below which the client pauses
	// after a call until the bucket has refilled to it.
	LowWatermark float64
	// MaxThrottleWait caps that pause.
	MaxThrottleWait time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client executes Admin GraphQL calls for any configured shop.
type Client struct {
	apiVersion      string
	baseURL         string
	lowWatermark    float64
	maxThrottleWait time.Duration
	http            *http.Client
	tokens          TokenSource
	logger          *slog.Logger
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client that authenticates with tokens.
func NewClient(cfg Config, tokens TokenSource) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("token source is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		apiVersion:      fallback(cfg.APIVersion, defaultAPIVersion),
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		lowWatermark:    cfg.LowWatermark,
		maxThrottleWait: cfg.MaxThrottleWait,
		http:            hc,
		tokens:          tokens,
		logger:          logger.With("component", "shopify"),
		sleep:           sleepCtx,
	}
	if c.lowWatermark <= 0 {
		c.lowWatermark = defaultLowWatermark
	}
	if c.maxThrottleWait <= 0 {
		c.maxThrottleWait = defaultMaxThrottleWait
	}
	return c, nil
}

// Response is a decoded GraphQL response. Data is nil when the upstream answered 404.
type Response struct {
	Data       json.RawMessage `json:"data"`
	Errors     []GraphQLError  `json:"errors,omitempty"`
	Extensions *Extensions     `json:"extensions,omitempty"`
}

// Decode unmarshals Data into v. A missing payload leaves v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return apperrors.Formatf("decode graphql data: %v", err)
	}
	return nil
}

// GraphQLError is one entry of the top-level errors array.
type GraphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// Extensions carries query cost accounting.
type Extensions struct {
	Cost *QueryCost `json:"cost,omitempty"`
}

// QueryCost reports the cost of a call and the leaky bucket state after it.
type QueryCost struct {
	RequestedQueryCost float64        `json:"requestedQueryCost"`
	ActualQueryCost    *float64       `json:"actualQueryCost"`
	ThrottleStatus     ThrottleStatus `json:"throttleStatus"`
}

// ThrottleStatus is the leaky bucket state.
type ThrottleStatus struct {
	MaximumAvailable   float64 `json:"maximumAvailable"`
	CurrentlyAvailable float64 `json:"currentlyAvailable"`
	RestoreRate        float64 `json:"restoreRate"`
}

// waitFor returns how long until the bucket holds need points.
func (t ThrottleStatus) waitFor(need float64) time.Duration {
	if t.RestoreRate <= 0 || t.CurrentlyAvailable >= need {
		return 0
	}
	ms := math.Ceil((need - t.CurrentlyAvailable) * 1000 / t.RestoreRate)
	return time.Duration(ms) * time.Millisecond
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (c *Client) endpoint(shop string) string {
	base := c.baseURL
	if base == "" {
		base = "https://" + shop
	}
	return base + "/admin/api/" + c.apiVersion + "/graphql.json"
}

// Execute runs one GraphQL document against shop.
//
// Error mapping: 429 and THROTTLED are UpstreamBusy with a retry hint, 5xx and network
// failures are Transient, 401/403 and other GraphQL errors are UpstreamRejected.
// A 404 returns a Response with no data.
func (c *Client) Execute(ctx context.Context, shop, query string, variables map[string]any) (*Response, error) {
	token, err := c.tokens.Token(ctx, shop)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUpstreamRejected, "resolve access token")
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("encode graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(shop), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Transient(err, "graphql request to "+shop)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &Response{}, nil
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Transient(err, "decode graphql response")
	}
	if err := c.graphqlError(&out); err != nil {
		return nil, err
	}
	if err := c.pace(ctx, shop, out.Extensions); err != nil {
		return nil, err
	}
	return &out, nil
}

func statusError(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300, code == http.StatusNotFound:
		return nil
	case code == http.StatusTooManyRequests:
		return apperrors.UpstreamBusy("graphql rate limited", retryAfter(resp.Header.Get("Retry-After")))
	case code >= 500:
		return apperrors.Transient(fmt.Errorf("status %d: %s", code, snippet(resp.Body)), "graphql upstream error")
	default:
		return apperrors.UpstreamRejectedf("graphql status %d: %s", code, snippet(resp.Body))
	}
}

func (c *Client) graphqlError(out *Response) error {
	if len(out.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(out.Errors))
	for _, e := range out.Errors {
		if e.Extensions.Code == "THROTTLED" {
			wait := defaultBusyRetry
			if out.Extensions != nil && out.Extensions.Cost != nil {
				cost := out.Extensions.Cost
				if w := cost.ThrottleStatus.waitFor(cost.RequestedQueryCost); w > 0 {
					wait = w
				}
			}
			return apperrors.UpstreamBusy("graphql throttled", wait)
		}
		msgs = append(msgs, e.Message)
	}
	return apperrors.UpstreamRejectedf("graphql errors: %s", strings.Join(msgs, "; "))
}

// pace sleeps when the bucket dropped below the low watermark.
func (c *Client) pace(ctx context.Context, shop string, ext *Extensions) error {
	if ext == nil || ext.Cost == nil {
		return nil
	}
	status := ext.Cost.ThrottleStatus
	if status.CurrentlyAvailable >= c.lowWatermark {
		return nil
	}
	wait := min(status.waitFor(c.lowWatermark), c.maxThrottleWait)
	if wait <= 0 {
		return nil
	}
	c.logger.DebugContext(ctx, "query budget low, pausing",
		"shop", shop,
		"available", status.CurrentlyAvailable,
		"wait", wait)
	return c.sleep(ctx, wait)
}

// PageQuery describes a cursor-paginated query. Path is a JMESPath expression selecting
// the connection inside data; the query must accept an $after variable.
type PageQuery struct {
	Query     string
	Variables map[string]any
	Path      string
	// MaxPages bounds the walk. Zero means no bound.
	MaxPages int
}

type pageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// FetchAll walks every page of a connection and returns the raw nodes in order.
// Both nodes and edges[].node connection shapes are accepted.
func (c *Client) FetchAll(ctx context.Context, shop string, q PageQuery) ([]json.RawMessage, error) {
	var (
		all    []json.RawMessage
		cursor *string
	)
	for page := 0; q.MaxPages == 0 || page < q.MaxPages; page++ {
		vars := make(map[string]any, len(q.Variables)+1)
		for k, v := range q.Variables {
			vars[k] = v
		}
		vars["after"] = cursor

		resp, err := c.Execute(ctx, shop, q.Query, vars)
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 || string(resp.Data) == "null" {
			return all, nil
		}

		nodes, info, err := extractPage(resp.Data, q.Path)
		if err != nil {
			return nil, err
		}
		all = append(all, nodes...)
		if !info.HasNextPage || info.EndCursor == nil {
			return all, nil
		}
		cursor = info.EndCursor
	}
	return all, nil
}

func extractPage(data json.RawMessage, path string) ([]json.RawMessage, pageInfo, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, pageInfo{}, apperrors.Formatf("decode page: %v", err)
	}

	conn, err := jmespath.Search(path, doc)
	if err != nil {
		return nil, pageInfo{}, fmt.Errorf("invalid connection path %q: %w", path, err)
	}
	if conn == nil {
		// The parent object does not exist upstream.
		return nil, pageInfo{}, nil
	}

	items, err := jmespath.Search("nodes || edges[].node", conn)
	if err != nil {
		return nil, pageInfo{}, fmt.Errorf("extract nodes at %q: %w", path, err)
	}
	list, ok := items.([]any)
	if items != nil && !ok {
		return nil, pageInfo{}, apperrors.Formatf("connection at %q has no node list", path)
	}

	nodes := make([]json.RawMessage, 0, len(list))
	for _, item := range list {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, pageInfo{}, fmt.Errorf("encode node: %w", err)
		}
		nodes = append(nodes, raw)
	}

	var info pageInfo
	rawInfo, err := jmespath.Search("pageInfo", conn)
	if err != nil {
		return nil, pageInfo{}, fmt.Errorf("extract pageInfo at %q: %w", path, err)
	}
	if rawInfo != nil {
		b, err := json.Marshal(rawInfo)
		if err != nil {
			return nil, pageInfo{}, fmt.Errorf("encode pageInfo: %w", err)
		}
		if err := json.Unmarshal(b, &info); err != nil {
			return nil, pageInfo{}, apperrors.Formatf("decode pageInfo: %v", err)
		}
	}
	return nodes, info, nil
}

// Download opens url with the shared HTTP client. Export URLs are pre-signed, so no
// access token is attached.
func (c *Client) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Transient(err, "download export")
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		if err := statusError(resp); err != nil {
			return nil, err
		}
		return nil, apperrors.UpstreamRejectedf("download export: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultBusyRetry
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return defaultBusyRetry
	}
	return time.Duration(secs * float64(time.Second))
}

func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
