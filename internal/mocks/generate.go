// Package mocks provides mock implementations for testing the shelfsort queue, orchestrator
// and webhook services.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the ports in
// internal/core.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(result, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// Create, GetByID, ReserveNext, WaitForNotification, Heartbeat, Complete, Fail, Delay, Stats, List
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/acme/shelfsort/internal/core JobRepository

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=scheduled_jobs_repository_mock.go github.com/acme/shelfsort/internal/core ScheduledJobsRepository,ScheduledJobsAdminRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=reaper_repository_mock.go github.com/acme/shelfsort/internal/core ReaperRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=rate_limiter_mock.go github.com/acme/shelfsort/internal/core RateLimiter

// Catalog state owned by the push-down pipeline.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=bulk_operation_repository_mock.go github.com/acme/shelfsort/internal/core BulkOperationRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=collection_repository_mock.go github.com/acme/shelfsort/internal/core CollectionRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=product_repository_mock.go github.com/acme/shelfsort/internal/core ProductRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=merchant_repository_mock.go github.com/acme/shelfsort/internal/core MerchantRepository

// Merchant settings lookups and the redis cache behind them.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=merchant_settings_mock.go github.com/acme/shelfsort/internal/core MerchantSettings
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/acme/shelfsort/internal/core CacheRepository

// Upstream shop Admin API.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=shop_api_mock.go github.com/acme/shelfsort/internal/core ShopAPI
