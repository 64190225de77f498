package config

import (
	"strings"
	"time"
)

const defaultShopifyAPIVersion = "2025-01"

// ShopifyConfig holds Admin API access settings.
type ShopifyConfig struct {
	APIVersion string        `env:"API_VERSION"  envDefault:"2025-01"`
	Timeout    time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	// ClientID and ClientSecret enable the client credentials grant for shops without a
	// static token.
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`

	// AccessTokens maps shop domain to a static Admin API token,
	// e.g. "demo.myshopify.com:shpat_123,other.myshopify.com:shpat_456".
	AccessTokens map[string]string `env:"ACCESS_TOKENS"`

	// BaseURL overrides https://{shop}. Used against local mocks.
	BaseURL string `env:"BASE_URL"`

	// LowWatermark is the remaining query cost below which calls pause for a refill.
	LowWatermark float64 `env:"THROTTLE_LOW_WATERMARK" envDefault:"100"`

	// MaxThrottleWait caps that pause.
	MaxThrottleWait time.Duration `env:"THROTTLE_MAX_WAIT" envDefault:"10s"`
}

// Sanitize applies guardrails to Shopify configuration values.
func (s *ShopifyConfig) Sanitize() {
	s.APIVersion = strings.TrimSpace(s.APIVersion)
	if s.APIVersion == "" {
		s.APIVersion = defaultShopifyAPIVersion
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.LowWatermark < 0 {
		s.LowWatermark = 0
	}
	if s.MaxThrottleWait <= 0 {
		s.MaxThrottleWait = 10 * time.Second
	}
	s.ClientID = strings.TrimSpace(s.ClientID)
	s.ClientSecret = strings.TrimSpace(s.ClientSecret)
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")

	tokens := make(map[string]string, len(s.AccessTokens))
	for shop, token := range s.AccessTokens {
		shop = strings.ToLower(strings.TrimSpace(shop))
		token = strings.TrimSpace(token)
		if shop == "" || token == "" {
			continue
		}
		tokens[shop] = token
	}
	s.AccessTokens = tokens
}

// HasCredentials reports whether any shop can be authenticated.
func (s *ShopifyConfig) HasCredentials() bool {
	return len(s.AccessTokens) > 0 || (s.ClientID != "" && s.ClientSecret != "")
}
