// Package store defines the durable persistence boundary behind the
// in-memory registry: providers, endpoints, pool configuration and the
// dispatch log survive a restart through whichever Store
// implementation is wired in (postgres or memory).
//
// Grounded on the teacher's repositories/interfaces.go: a narrow
// interface per concern, with the registry acting as the in-memory
// cache that a Store-backed app/dependencies.go seeds at startup and
// writes through on every mutation.
package store

import (
	"context"

	"github.com/llmpool/gateway/internal/pool"
)

// Store is the full persistence surface for the gateway's data model.
type Store interface {
	// LoadAll returns every provider, endpoint and pool config
	// currently persisted, for seeding the registry at startup.
	LoadAll(ctx context.Context) (providers []pool.Provider, endpoints []pool.Endpoint, configs []pool.Config, err error)

	SaveProvider(ctx context.Context, p pool.Provider) error
	// DeleteProviderCascade removes a provider and every endpoint it
	// owns as one atomic unit, mirroring the registry's in-memory
	// transactive provider delete.
	DeleteProviderCascade(ctx context.Context, providerID int64) error

	SaveEndpoint(ctx context.Context, e pool.Endpoint) error
	DeleteEndpoint(ctx context.Context, id int64) error

	SavePoolConfig(ctx context.Context, c pool.Config) error

	AppendLog(ctx context.Context, e pool.LogEntry) error
	ListLogs(ctx context.Context, filter LogFilter, offset, limit int) ([]pool.LogEntry, int, error)
	ClearLogs(ctx context.Context) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// LogFilter narrows a ListLogs query, mirroring logsink.Filter so the
// admin API can query either the in-memory ring or the durable store
// with the same shape.
type LogFilter struct {
	Pool         *pool.Tag
	Success      *bool
	ProviderName *string
}
