// Package registry holds the in-memory, authoritative view of
// providers, endpoints and pool configuration. Reads are wait-free with
// respect to each other; mutations are serialized and rebuild a
// secondary pool -> provider -> endpoint index consulted by the
// selector.
//
// Grounded on the teacher's services/providers/registry.go: an
// RWMutex-guarded map plus cached lookups, generalized from a flat
// provider map into the two-level pool index spec.md §4.1 asks for.
package registry

import (
	"sync"
	"time"

	"github.com/llmpool/gateway/internal/apperr"
	"github.com/llmpool/gateway/internal/pool"
)

// VirtualModels is the fixed virtual-model -> pool mapping table from
// spec.md §4.1 / §6. It is populated at startup from config and never
// mutated afterward; Registry treats it as read-only.
type VirtualModels map[string]pool.Tag

// Registry is the single authoritative, in-memory copy of the
// providers/endpoints/pool-config data model.
type Registry struct {
	mu sync.RWMutex

	providers map[int64]pool.Provider
	endpoints map[int64]pool.Endpoint
	configs   map[pool.Tag]pool.Config
	vmodels   VirtualModels

	nextProviderID int64
	nextEndpointID int64

	// index is the secondary pool -> provider -> endpoints index,
	// rebuilt on every mutation. Insertion order of providers within a
	// pool (round-robin order) and of endpoints within a provider
	// (fallback order) is preserved.
	index map[pool.Tag][]providerIndex
}

type providerIndex struct {
	providerID int64
	endpoints  []int64 // endpoint IDs in insertion order
}

// New creates an empty Registry seeded with default pool configs for
// the given virtual-model table.
func New(vmodels VirtualModels) *Registry {
	r := &Registry{
		providers:      make(map[int64]pool.Provider),
		endpoints:      make(map[int64]pool.Endpoint),
		configs:        make(map[pool.Tag]pool.Config),
		vmodels:        vmodels,
		nextProviderID: 1,
		nextEndpointID: 1,
		index:          make(map[pool.Tag][]providerIndex),
	}
	for name, tag := range vmodels {
		r.configs[tag] = pool.DefaultConfig(tag, name)
	}
	return r
}

// ResolveVirtualModel maps a client-visible model name to a pool tag.
func (r *Registry) ResolveVirtualModel(name string) (pool.Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.vmodels[name]
	if !ok {
		return "", apperr.New(apperr.TypeUnknownModel, "unknown virtual model: "+name, nil)
	}
	return tag, nil
}

// ListProviders returns a snapshot of every provider, ordered by ID.
func (r *Registry) ListProviders() []pool.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pool.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sortProvidersByID(out)
	return out
}

// GetProvider retrieves a single provider by ID.
func (r *Registry) GetProvider(id int64) (pool.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return pool.Provider{}, apperr.New(apperr.TypeNotFound, "provider not found", nil)
	}
	return p, nil
}

// CreateProvider inserts a new provider, enforcing unique display names.
func (r *Registry) CreateProvider(p pool.Provider) (pool.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.providers {
		if existing.Name == p.Name {
			return pool.Provider{}, apperr.New(apperr.TypeConflict, "provider name already in use", nil)
		}
	}

	p.ID = r.nextProviderID
	r.nextProviderID++
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.providers[p.ID] = p
	r.rebuildIndexLocked()
	return p, nil
}

// UpdateProvider replaces the mutable fields of an existing provider.
func (r *Registry) UpdateProvider(p pool.Provider) (pool.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.providers[p.ID]
	if !ok {
		return pool.Provider{}, apperr.New(apperr.TypeNotFound, "provider not found", nil)
	}
	for id, other := range r.providers {
		if id != p.ID && other.Name == p.Name {
			return pool.Provider{}, apperr.New(apperr.TypeConflict, "provider name already in use", nil)
		}
	}
	p.CreatedAt = existing.CreatedAt
	p.TotalCount, p.SuccessCount, p.ErrorCount = existing.TotalCount, existing.SuccessCount, existing.ErrorCount
	r.providers[p.ID] = p
	r.rebuildIndexLocked()
	return p, nil
}

// DeleteProvider removes a provider and every endpoint it owns
// (providers own their endpoints transactively, per spec.md §3).
func (r *Registry) DeleteProvider(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[id]; !ok {
		return apperr.New(apperr.TypeNotFound, "provider not found", nil)
	}
	delete(r.providers, id)
	for eid, e := range r.endpoints {
		if e.ProviderID == id {
			delete(r.endpoints, eid)
		}
	}
	r.rebuildIndexLocked()
	return nil
}

// ListEndpoints returns a snapshot of endpoints matching filter.
func (r *Registry) ListEndpoints(filter pool.EndpointFilter) []pool.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pool.Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		if filter.Pool != nil && e.Pool != *filter.Pool {
			continue
		}
		if filter.ProviderID != nil && e.ProviderID != *filter.ProviderID {
			continue
		}
		if filter.Enabled != nil && e.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, e)
	}
	sortEndpointsByID(out)
	return out
}

// GetEndpoint retrieves a single endpoint by ID.
func (r *Registry) GetEndpoint(id int64) (pool.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[id]
	if !ok {
		return pool.Endpoint{}, apperr.New(apperr.TypeNotFound, "endpoint not found", nil)
	}
	return e, nil
}

// CreateEndpoint inserts a new endpoint, enforcing the
// (provider, upstream_model, pool) uniqueness constraint.
func (r *Registry) CreateEndpoint(e pool.Endpoint) (pool.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createEndpointLocked(e)
}

func (r *Registry) createEndpointLocked(e pool.Endpoint) (pool.Endpoint, error) {
	if _, ok := r.providers[e.ProviderID]; !ok {
		return pool.Endpoint{}, apperr.New(apperr.TypeValidation, "endpoint references unknown provider", nil)
	}
	for _, existing := range r.endpoints {
		if existing.ProviderID == e.ProviderID && existing.UpstreamModelID == e.UpstreamModelID && existing.Pool == e.Pool {
			return pool.Endpoint{}, apperr.New(apperr.TypeConflict, "endpoint already exists for (provider, model, pool)", nil)
		}
	}
	if e.Weight <= 0 {
		e.Weight = 1
	}
	e.ID = r.nextEndpointID
	r.nextEndpointID++
	r.endpoints[e.ID] = e
	r.rebuildIndexLocked()
	return e, nil
}

// CreateEndpointsBatch creates multiple endpoints for one
// (provider, pool), skipping any that would violate the uniqueness
// constraint (spec.md §4.7 "POST /endpoints/batch"). Returns the
// endpoints actually created.
func (r *Registry) CreateEndpointsBatch(providerID int64, tag pool.Tag, upstreamModelIDs []string, weight int) ([]pool.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[providerID]; !ok {
		return nil, apperr.New(apperr.TypeValidation, "endpoint references unknown provider", nil)
	}

	created := make([]pool.Endpoint, 0, len(upstreamModelIDs))
	for _, modelID := range upstreamModelIDs {
		dup := false
		for _, existing := range r.endpoints {
			if existing.ProviderID == providerID && existing.UpstreamModelID == modelID && existing.Pool == tag {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		w := weight
		if w <= 0 {
			w = 1
		}
		e := pool.Endpoint{
			ProviderID:      providerID,
			UpstreamModelID: modelID,
			Pool:            tag,
			Enabled:         true,
			Weight:          w,
		}
		e.ID = r.nextEndpointID
		r.nextEndpointID++
		r.endpoints[e.ID] = e
		created = append(created, e)
	}
	r.rebuildIndexLocked()
	return created, nil
}

// UpdateEndpoint replaces the admin-editable fields of an endpoint
// (enabled, weight, min-interval, priority). Health state fields
// (cooldown, counters, latency, last-used, last-error) are owned by
// the state package and are not touched here.
func (r *Registry) UpdateEndpoint(id int64, enabled bool, weight, minIntervalSeconds, priority int) (pool.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	if !ok {
		return pool.Endpoint{}, apperr.New(apperr.TypeNotFound, "endpoint not found", nil)
	}
	if weight <= 0 {
		weight = 1
	}
	e.Enabled = enabled
	e.Weight = weight
	e.MinIntervalSeconds = minIntervalSeconds
	e.Priority = priority
	r.endpoints[id] = e
	r.rebuildIndexLocked()
	return e, nil
}

// DeleteEndpoint removes an endpoint.
func (r *Registry) DeleteEndpoint(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return apperr.New(apperr.TypeNotFound, "endpoint not found", nil)
	}
	delete(r.endpoints, id)
	r.rebuildIndexLocked()
	return nil
}

// GetPoolConfig returns the configuration for a pool tag.
func (r *Registry) GetPoolConfig(tag pool.Tag) (pool.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[tag]
	if !ok {
		return pool.Config{}, apperr.New(apperr.TypeNotFound, "pool not found", nil)
	}
	return cfg, nil
}

// ListPoolConfigs returns every pool's configuration.
func (r *Registry) ListPoolConfigs() []pool.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pool.Config, 0, len(r.configs))
	for _, tag := range pool.Tags {
		if cfg, ok := r.configs[tag]; ok {
			out = append(out, cfg)
		}
	}
	return out
}

// UpdatePoolConfig updates cooldown/timeout/retry settings for a pool.
// Existing cooldown-untils already scheduled on endpoints are left as-is
// (spec.md §9 Open Question): shortening cooldown-seconds does not
// retroactively wake endpoints already cooling under the old value.
func (r *Registry) UpdatePoolConfig(tag pool.Tag, cooldownSeconds, timeoutSeconds, maxRetries int) (pool.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[tag]
	if !ok {
		return pool.Config{}, apperr.New(apperr.TypeNotFound, "pool not found", nil)
	}
	cfg.CooldownSeconds = cooldownSeconds
	cfg.TimeoutSeconds = timeoutSeconds
	cfg.MaxRetries = maxRetries
	r.configs[tag] = cfg
	return cfg, nil
}

// PoolIndex is the read-only view of the secondary index the selector
// consults: providers in round-robin insertion order, each with its
// endpoints in fallback insertion order.
type PoolIndex struct {
	ProviderIDs        []int64
	EndpointsByProvider map[int64][]pool.Endpoint
}

// IndexForPool returns a snapshot of the secondary index for tag. The
// caller must not mutate the returned slices/maps.
func (r *Registry) IndexForPool(tag pool.Tag) PoolIndex {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.index[tag]
	out := PoolIndex{
		ProviderIDs:         make([]int64, 0, len(entries)),
		EndpointsByProvider: make(map[int64][]pool.Endpoint, len(entries)),
	}
	for _, pe := range entries {
		out.ProviderIDs = append(out.ProviderIDs, pe.providerID)
		eps := make([]pool.Endpoint, 0, len(pe.endpoints))
		for _, eid := range pe.endpoints {
			if e, ok := r.endpoints[eid]; ok {
				eps = append(eps, e)
			}
		}
		out.EndpointsByProvider[pe.providerID] = eps
	}
	return out
}

// ProviderLookup returns a snapshot map of provider ID -> provider, used
// by the dispatcher/state to check provider.Enabled without re-entering
// the Registry per candidate.
func (r *Registry) ProviderLookup() map[int64]pool.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]pool.Provider, len(r.providers))
	for id, p := range r.providers {
		out[id] = p
	}
	return out
}

// RecordProviderOutcome bumps a provider's lifetime counters. Called by
// the dispatcher alongside state.MarkSuccess/MarkFailure.
func (r *Registry) RecordProviderOutcome(providerID int64, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[providerID]
	if !ok {
		return
	}
	p.TotalCount++
	if success {
		p.SuccessCount++
	} else {
		p.ErrorCount++
	}
	r.providers[providerID] = p
}

// rebuildIndexLocked recomputes the pool -> provider -> endpoint index.
// Must be called with mu held for writing. Provider order within a pool
// follows provider ID ascending (insertion order, since IDs are
// assigned monotonically); endpoint order within a provider likewise.
func (r *Registry) rebuildIndexLocked() {
	next := make(map[pool.Tag][]providerIndex, len(pool.Tags))

	providerIDs := make([]int64, 0, len(r.providers))
	for id := range r.providers {
		providerIDs = append(providerIDs, id)
	}
	sortInt64s(providerIDs)

	for _, tag := range pool.Tags {
		var entries []providerIndex
		for _, pid := range providerIDs {
			var eids []int64
			for _, e := range r.endpoints {
				if e.ProviderID == pid && e.Pool == tag {
					eids = append(eids, e.ID)
				}
			}
			if len(eids) == 0 {
				continue
			}
			sortInt64s(eids)
			entries = append(entries, providerIndex{providerID: pid, endpoints: eids})
		}
		next[tag] = entries
	}
	r.index = next
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func sortProvidersByID(s []pool.Provider) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].ID > s[j].ID; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func sortEndpointsByID(s []pool.Endpoint) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].ID > s[j].ID; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
