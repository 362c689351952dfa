package backend

import (
	"context"

	"spendwise/internal/amqp"
	"spendwise/internal/config"
	"spendwise/internal/importer"
	"spendwise/internal/storage"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult bundles what the binaries need to build services.
type BackendResult struct {
	Repo *storage.SQLiteRepository
	// Publisher is the AMQP client or a no-op when no broker is set.
	Publisher importer.EventPublisher
	// AMQP is nil when messaging is disabled.
	AMQP    *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, cfg *config.Config) (*BackendResult, error)
}
