//go:build tools

// Package tools lists the development tools shelfsort relies on. None of them are
// imported by the service.
package tools

// mockgen regenerates internal/mocks through `go generate ./internal/mocks/...`; it runs
// with `go run`, so its version is the go.uber.org/mock entry in go.mod.
//
// air rebuilds and restarts cmd/shelfsort on file changes during local development:
//
//	go install github.com/air-verse/air@v1.63.0
//
// Integration tests expect Postgres on localhost:55432 and Redis on localhost:56379, or
// TEST_DB_* and REDIS_ADDR pointing elsewhere. Set TEST_REQUIRE_INFRA=1 in CI so missing
// services fail the run instead of skipping.
