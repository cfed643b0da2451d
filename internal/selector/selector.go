// Package selector implements the two-level candidate-ordering
// algorithm: round-robin across a pool's providers, weight-proportional
// random selection of one endpoint per provider, and a degraded
// fallback pass that ignores cooldown when every provider is cooling.
//
// Grounded on the teacher's services/routing/service.go strategy
// dispatch (selectRoundRobin/selectFallbackProvider), generalized from
// a flat provider list into the pool-scoped, two-level algorithm
// spec.md §4.3 describes.
package selector

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/registry"
	"github.com/llmpool/gateway/internal/state"
)

// Selector produces ordered candidate sequences for a dispatch.
type Selector struct {
	reg    *registry.Registry
	health *state.Store

	cursors [3]atomic.Uint64 // len(pool.Tags); array size must be a compile-time constant
}

// New builds a Selector over reg/health. reg's secondary index and
// health's per-endpoint records are read without holding any lock
// shared with the caller.
func New(reg *registry.Registry, health *state.Store) *Selector {
	return &Selector{reg: reg, health: health}
}

func cursorSlot(tag pool.Tag) int {
	for i, t := range pool.Tags {
		if t == tag {
			return i
		}
	}
	return 0
}

// Candidates returns the ordered list of endpoint ids to try for one
// dispatch against tag, per spec.md §4.3. The round-robin cursor for
// tag is advanced exactly once per call, regardless of how many
// candidates are returned or how the dispatch ultimately resolves.
func (s *Selector) Candidates(tag pool.Tag, now time.Time) []pool.Endpoint {
	idx := s.reg.IndexForPool(tag)
	n := len(idx.ProviderIDs)
	if n == 0 {
		return nil
	}
	providers := s.reg.ProviderLookup()

	slot := cursorSlot(tag)
	cursor := s.cursors[slot].Add(1) - 1
	start := int(cursor % uint64(n))

	yielded := make(map[int64]bool)
	var out []pool.Endpoint

	for i := 0; i < n; i++ {
		providerID := idx.ProviderIDs[(start+i)%n]
		if p, ok := providers[providerID]; !ok || !p.Enabled {
			continue
		}
		endpoints := idx.EndpointsByProvider[providerID]

		available := availableEndpoints(endpoints, s.health, now)
		if len(available) == 0 {
			continue
		}
		chosen := weightedPick(available)
		if !yielded[chosen.ID] {
			out = append(out, chosen)
			yielded[chosen.ID] = true
		}
	}

	if len(out) > 0 {
		return out
	}

	// Degraded fallback: every provider was fully cooling. Ignore
	// cooldown but keep respecting enabled endpoints and providers, in
	// stable insertion order (not the rotated round-robin start — the
	// cursor only governs the primary pass).
	for i := 0; i < n; i++ {
		providerID := idx.ProviderIDs[i]
		if p, ok := providers[providerID]; !ok || !p.Enabled {
			continue
		}
		for _, e := range idx.EndpointsByProvider[providerID] {
			if !e.Enabled {
				continue
			}
			if yielded[e.ID] {
				continue
			}
			out = append(out, e)
			yielded[e.ID] = true
		}
	}
	return out
}

func availableEndpoints(endpoints []pool.Endpoint, health *state.Store, now time.Time) []pool.Endpoint {
	var out []pool.Endpoint
	for _, e := range endpoints {
		if !e.Enabled {
			continue
		}
		if !health.IsAvailable(e.ID, e.MinIntervalSeconds, now) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// weightedPick chooses one endpoint with probability proportional to
// its weight among candidates.
func weightedPick(candidates []pool.Endpoint) pool.Endpoint {
	if len(candidates) == 1 {
		return candidates[0]
	}

	total := 0
	for _, e := range candidates {
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}

	r := rand.Intn(total)
	for _, e := range candidates {
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		if r < w {
			return e
		}
		r -= w
	}
	return candidates[len(candidates)-1]
}
