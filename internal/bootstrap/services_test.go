package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/acme/shelfsort/config"
	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/mocks"
	"github.com/acme/shelfsort/internal/service"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "worker and scheduler",
			modes: []config.ServiceMode{config.ServiceModeWorker, config.ServiceModeScheduler},
			want:  2,
		},
		{
			name:  "all services enabled",
			modes: config.ValidServiceModes(),
			want:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
			if got := errorChannelBufferSize(enabled); got != tt.want+1 {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want+1)
			}
		})
	}
}

func TestGetEnabledServices(t *testing.T) {
	cfg := &config.AppConfig{Services: "reaper, http,worker"}
	assert.Equal(t, []string{"http", "worker", "reaper"}, GetEnabledServices(cfg))

	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "browser"}))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	withTokens := config.ShopifyConfig{AccessTokens: map[string]string{"s1.myshopify.com": "shpat_1"}}

	tests := []struct {
		name    string
		cfg     *config.AppConfig
		wantErr string
	}{
		{name: "nil", cfg: nil, wantErr: "required"},
		{name: "unknown service", cfg: &config.AppConfig{Services: "rules-engine"}, wantErr: "invalid service"},
		{
			name:    "worker without credentials",
			cfg:     &config.AppConfig{Services: "worker"},
			wantErr: "shopify credentials",
		},
		{
			name:    "http without webhook secret",
			cfg:     &config.AppConfig{Services: "http", Shopify: withTokens},
			wantErr: "SHOPIFY_WEBHOOK_SECRET",
		},
		{
			name: "http without webhook secret in dev",
			cfg:  &config.AppConfig{Services: "http", Shopify: withTokens, IsDev: true},
		},
		{
			name: "scheduler and reaper need no credentials",
			cfg:  &config.AppConfig{Services: "scheduler,reaper"},
		},
		{
			name: "client credentials",
			cfg: &config.AppConfig{
				Services: "http,worker",
				Shopify:  config.ShopifyConfig{ClientID: "id", ClientSecret: "secret"},
				HTTP:     config.HTTPConfig{WebhookSecret: "shh"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceConfig(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func newTestHandlers(t *testing.T, ctrl *gomock.Controller) (JobHandlers, *service.QueueService) {
	t.Helper()
	queue := service.MustNewQueueService(service.QueueServiceOptions{
		Repo:         mocks.NewMockJobRepository(ctrl),
		DefaultLease: 30 * time.Second,
	})
	autoSorting, err := service.NewAutoSortingHandler(service.AutoSortingHandlerOptions{
		Collections: mocks.NewMockCollectionRepository(ctrl),
		Merchants:   mocks.NewMockMerchantSettings(ctrl),
		Queue:       queue,
	})
	require.NoError(t, err)
	hide, err := service.NewHideProductHandler(service.HideProductHandlerOptions{
		Shop:      mocks.NewMockShopAPI(ctrl),
		Products:  mocks.NewMockProductRepository(ctrl),
		Merchants: mocks.NewMockMerchantSettings(ctrl),
	})
	require.NoError(t, err)
	return JobHandlers{
		PushDown:    service.NewPushDownHandler(nil, nil),
		AutoSorting: autoSorting,
		HideProduct: hide,
	}, queue
}

func TestNewWorkerRunner_RegistersEveryQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	handlers, queue := newTestHandlers(t, ctrl)

	workers := config.WorkersConfig{}
	workers.Sanitize()

	for name, limiter := range map[string]core.RateLimiter{
		"with limiter":    mocks.NewMockRateLimiter(ctrl),
		"without limiter": nil,
	} {
		t.Run(name, func(t *testing.T) {
			runner, err := NewWorkerRunner(WorkersConfig{
				Queue:    queue,
				Limiter:  limiter,
				Handlers: handlers,
				Workers:  workers,
			})
			require.NoError(t, err)
			assert.ElementsMatch(t, model.AllQueues(), runner.Queues())
		})
	}
}

func TestBuildFailureNotifier(t *testing.T) {
	disabled := buildFailureNotifier(nil, config.ObservabilityNotificationsConfig{})
	assert.False(t, disabled.Enabled())

	cfg := config.ObservabilityNotificationsConfig{
		Enabled: true,
		Slack:   config.SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.test/T/B/X"},
	}
	cfg.Sanitize()
	assert.True(t, buildFailureNotifier(nil, cfg).Enabled())
}

func TestNewRouter_OmitsMissingServices(t *testing.T) {
	router := NewRouter(&HTTPServerConfig{
		Config:   &config.AppConfig{HTTP: config.HTTPConfig{MaxBodyBytes: 1 << 10}},
		Services: ServiceContainer{},
	})
	require.NotNil(t, router)
}
