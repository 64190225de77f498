// Package pagerduty triggers PagerDuty incidents for failed jobs through the Events API v2.
package pagerduty

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/acme/shelfsort/internal/observability/notify"
)

// APIEndpoint is the Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config configures the sink. Endpoint defaults to APIEndpoint.
type Config struct {
	RoutingKey   string
	Source       string
	Component    string
	Endpoint     string
	Timeout      time.Duration
	RetryLimit   int
	RetryWaitMin time.Duration
	Client       *http.Client
	Logger       *slog.Logger
}

// Client is a notify.Sink that triggers one incident per failed job.
type Client struct {
	routingKey string
	source     string
	component  string
	endpoint   string
	poster     *notify.Poster
}

var _ notify.Sink = (*Client)(nil)

type event struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key,omitempty"`
	Payload     eventPayload `json:"payload"`
}

type eventPayload struct {
	Summary       string         `json:"summary"`
	Severity      string         `json:"severity"`
	Source        string         `json:"source"`
	Component     string         `json:"component"`
	Timestamp     string         `json:"timestamp"`
	CustomDetails map[string]any `json:"custom_details"`
}

// NewClient validates cfg and builds the sink.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}
	return &Client{
		routingKey: key,
		source:     cmp.Or(strings.TrimSpace(cfg.Source), "shelfsort"),
		component:  cmp.Or(strings.TrimSpace(cfg.Component), "shelfsort"),
		endpoint:   cmp.Or(strings.TrimSpace(cfg.Endpoint), APIEndpoint),
		poster: notify.NewPoster("pagerduty api", notify.HTTPOptions{
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			RetryWaitMin: cfg.RetryWaitMin,
			HTTPClient:   cfg.Client,
			Logger:       cfg.Logger,
		}),
	}, nil
}

// SendJobFailure submits a trigger event.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	body, err := json.Marshal(c.buildEvent(payload))
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}
	return c.poster.PostJSON(ctx, c.endpoint, body)
}

// buildEvent dedups on queue and job id so retried notifications for one job share an incident.
func (c *Client) buildEvent(p notify.JobFailurePayload) event {
	details := make(map[string]any, len(p.Metadata)+8)
	for k, v := range p.Metadata {
		details[k] = v
	}
	for k, v := range map[string]any{
		"job_id":      p.JobID,
		"queue":       p.Queue,
		"job_name":    p.JobName,
		"shop":        p.Shop,
		"scope":       p.Scope,
		"attempts":    p.Attempts,
		"error":       p.Error,
		"error_class": p.ErrorClass,
	} {
		details[k] = v
	}

	return event{
		RoutingKey:  c.routingKey,
		EventAction: "trigger",
		DedupKey:    strings.Trim(p.Queue+":"+p.JobID, ":"),
		Payload: eventPayload{
			Summary: fmt.Sprintf("Job %s (%s) failed for %s",
				cmp.Or(p.JobID, "unknown"), cmp.Or(p.Kind(), "unknown"), cmp.Or(p.Shop, "unknown shop")),
			Severity:      strings.ToLower(p.SeverityOrDefault()),
			Source:        c.source,
			Component:     c.component,
			Timestamp:     p.Timestamp().Format(time.RFC3339),
			CustomDetails: details,
		},
	}
}
