// Package slack posts job failure alerts to a Slack incoming webhook.
package slack

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/acme/shelfsort/internal/observability/notify"
)

// Config configures the webhook sink. ShopURLPrefix, when set, turns the shop into a link
// to <prefix>/<store handle>.
type Config struct {
	WebhookURL    string
	Channel       string
	Username      string
	ShopURLPrefix string
	Timeout       time.Duration
	RetryLimit    int
	RetryWaitMin  time.Duration
	Client        *http.Client
	Logger        *slog.Logger
}

// Client is a notify.Sink backed by a Slack webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	shopPrefix *url.URL
	poster     *notify.Poster
}

var _ notify.Sink = (*Client)(nil)

type message struct {
	Text     string `json:"text"`
	Username string `json:"username"`
	Channel  string `json:"channel,omitempty"`
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// NewClient validates cfg and builds the sink.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}
	c := &Client{
		webhookURL: webhookURL,
		channel:    strings.TrimSpace(cfg.Channel),
		username:   cmp.Or(strings.TrimSpace(cfg.Username), "shelfsort"),
		poster: notify.NewPoster("slack webhook", notify.HTTPOptions{
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			RetryWaitMin: cfg.RetryWaitMin,
			HTTPClient:   cfg.Client,
			Logger:       cfg.Logger,
		}),
	}
	if u, err := url.Parse(strings.TrimSpace(cfg.ShopURLPrefix)); err == nil && u.Scheme != "" && u.Host != "" {
		c.shopPrefix = u
	}
	return c, nil
}

// SendJobFailure posts the formatted alert.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	body, err := json.Marshal(c.formatMessage(payload))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return c.poster.PostJSON(ctx, c.webhookURL, body)
}

func (c *Client) formatMessage(p notify.JobFailurePayload) message {
	var b strings.Builder
	b.WriteString("*Job failure alert*")
	if p.JobID != "" {
		fmt.Fprintf(&b, " `%s`", p.JobID)
	}
	if kind := p.Kind(); kind != "" {
		fmt.Fprintf(&b, " (%s)", kind)
	}
	b.WriteByte('\n')

	attempts := ""
	if p.Attempts > 0 {
		attempts = strconv.Itoa(p.Attempts)
	}
	for _, f := range [][2]string{
		{"Severity", p.SeverityOrDefault()},
		{"Shop", c.formatShopValue(p.Shop)},
		{"Scope", p.Scope},
		{"Attempts", attempts},
		{"Error class", p.ErrorClass},
		{"Error", p.Error},
	} {
		if strings.TrimSpace(f[1]) != "" {
			fmt.Fprintf(&b, "• %s: %s\n", f[0], f[1])
		}
	}
	if len(p.Metadata) > 0 {
		b.WriteString("• Metadata:\n")
		for _, k := range slices.Sorted(maps.Keys(p.Metadata)) {
			fmt.Fprintf(&b, "    • %s: %s\n", k, p.Metadata[k])
		}
	}
	b.WriteString("• Timestamp: " + p.Timestamp().Format(time.RFC3339))

	return message{Text: b.String(), Username: c.username, Channel: c.channel}
}

// formatShopValue escapes the shop and links it to the admin when a prefix is configured.
// The link target is the store handle, the part of the myshopify domain before the first dot.
func (c *Client) formatShopValue(shop string) string {
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return ""
	}
	display := escaper.Replace(shop)
	if c.shopPrefix == nil {
		return display
	}
	handle, _, _ := strings.Cut(shop, ".")
	return fmt.Sprintf("<%s|%s>", c.shopPrefix.JoinPath(handle).String(), display)
}
