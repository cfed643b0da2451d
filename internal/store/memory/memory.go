// Package memory is an in-process Store implementation, used for
// STORE_DRIVER=memory (local dev, tests). Not present in the teacher,
// which is Postgres-only; added so the gateway is runnable without a
// database, grounded on the postgres adapter's method discipline.
package memory

import (
	"context"
	"sync"

	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu        sync.Mutex
	providers map[int64]pool.Provider
	endpoints map[int64]pool.Endpoint
	configs   map[pool.Tag]pool.Config
	logs      []pool.LogEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		providers: make(map[int64]pool.Provider),
		endpoints: make(map[int64]pool.Endpoint),
		configs:   make(map[pool.Tag]pool.Config),
	}
}

func (s *Store) LoadAll(ctx context.Context) ([]pool.Provider, []pool.Endpoint, []pool.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	providers := make([]pool.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		providers = append(providers, p)
	}
	endpoints := make([]pool.Endpoint, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		endpoints = append(endpoints, e)
	}
	configs := make([]pool.Config, 0, len(s.configs))
	for _, c := range s.configs {
		configs = append(configs, c)
	}
	return providers, endpoints, configs, nil
}

func (s *Store) SaveProvider(ctx context.Context, p pool.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
	return nil
}

func (s *Store) DeleteProviderCascade(ctx context.Context, providerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.providers, providerID)
	for id, e := range s.endpoints {
		if e.ProviderID == providerID {
			delete(s.endpoints, id)
		}
	}
	return nil
}

func (s *Store) SaveEndpoint(ctx context.Context, e pool.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[e.ID] = e
	return nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.endpoints, id)
	return nil
}

func (s *Store) SavePoolConfig(ctx context.Context, c pool.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[c.Tag] = c
	return nil
}

func (s *Store) AppendLog(ctx context.Context, e pool.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, e)
	return nil
}

func (s *Store) ListLogs(ctx context.Context, filter store.LogFilter, offset, limit int) ([]pool.LogEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []pool.LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if filter.Pool != nil && e.Pool != *filter.Pool {
			continue
		}
		if filter.Success != nil && e.Success != *filter.Success {
			continue
		}
		if filter.ProviderName != nil && e.ProviderName != *filter.ProviderName {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *Store) ClearLogs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
