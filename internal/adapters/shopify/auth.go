package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const shopSuffix = ".myshopify.com"

var shopLabel = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ErrUnknownShop is returned when no credentials are configured for a shop.
var ErrUnknownShop = errors.New("no credentials for shop")

// ValidateShopDomain checks that shop is a single-label myshopify.com domain.
func ValidateShopDomain(shop string) error {
	if shop == "" {
		return errors.New("shop is required")
	}
	if shop != strings.ToLower(strings.TrimSpace(shop)) {
		return fmt.Errorf("shop %q must be lower case without spaces", shop)
	}
	if !strings.HasSuffix(shop, shopSuffix) {
		return fmt.Errorf("shop %q is not a %s domain", shop, strings.TrimPrefix(shopSuffix, "."))
	}
	if !shopLabel.MatchString(strings.TrimSuffix(shop, shopSuffix)) {
		return fmt.Errorf("shop %q has an invalid store label", shop)
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(shop)
	if err != nil {
		return fmt.Errorf("shop %q: %w", shop, err)
	}
	if etld1 != shop {
		return fmt.Errorf("shop %q is not a store domain", shop)
	}
	return nil
}

// TokenSource yields Admin API access tokens per shop.
type TokenSource interface {
	Token(ctx context.Context, shop string) (string, error)
}

// TokenProviderConfig configures a TokenProvider.
// StaticTokens take precedence over the client credentials grant.
type TokenProviderConfig struct {
	StaticTokens map[string]string
	ClientID     string
	ClientSecret string
	// TokenURL builds the grant endpoint for a shop. Defaults to https://{shop}/admin/oauth/access_token.
	TokenURL   func(shop string) string
	HTTPClient *http.Client
}

// TokenProvider resolves tokens from static configuration or the client credentials
// grant, caching one token source per shop.
type TokenProvider struct {
	static       map[string]string
	clientID     string
	clientSecret string
	tokenURL     func(shop string) string
	httpClient   *http.Client

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewTokenProvider creates a TokenProvider.
func NewTokenProvider(cfg TokenProviderConfig) *TokenProvider {
	tokenURL := cfg.TokenURL
	if tokenURL == nil {
		tokenURL = func(shop string) string { return "https://" + shop + "/admin/oauth/access_token" }
	}
	static := make(map[string]string, len(cfg.StaticTokens))
	for shop, tok := range cfg.StaticTokens {
		static[strings.ToLower(strings.TrimSpace(shop))] = strings.TrimSpace(tok)
	}
	return &TokenProvider{
		static:       static,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     tokenURL,
		httpClient:   cfg.HTTPClient,
		sources:      make(map[string]oauth2.TokenSource),
	}
}

// Token returns an access token for shop.
func (p *TokenProvider) Token(_ context.Context, shop string) (string, error) {
	if tok, ok := p.static[shop]; ok && tok != "" {
		return tok, nil
	}
	if p.clientID == "" || p.clientSecret == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownShop, shop)
	}
	if err := ValidateShopDomain(shop); err != nil {
		return "", err
	}

	tok, err := p.source(shop).Token()
	if err != nil {
		return "", fmt.Errorf("client credentials grant for %s: %w", shop, err)
	}
	return tok.AccessToken, nil
}

func (p *TokenProvider) source(shop string) oauth2.TokenSource {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ts, ok := p.sources[shop]; ok {
		return ts
	}
	cc := &clientcredentials.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		TokenURL:     p.tokenURL(shop),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// The source outlives any single request, so it carries its own context.
	ctx := context.Background()
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	ts := cc.TokenSource(ctx)
	p.sources[shop] = ts
	return ts
}
