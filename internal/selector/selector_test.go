package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/registry"
	"github.com/llmpool/gateway/internal/state"
)

func setup(t *testing.T) (*registry.Registry, *state.Store) {
	r := registry.New(registry.VirtualModels{"sonnet": pool.Normal})
	h := state.New()
	return r, h
}

func TestCandidatesEmptyPoolReturnsNil(t *testing.T) {
	r, h := setup(t)
	sel := New(r, h)
	assert.Nil(t, sel.Candidates(pool.Normal, time.Now()))
}

func TestCandidatesRoundRobinsAcrossProviders(t *testing.T) {
	r, h := setup(t)
	sel := New(r, h)

	p1, _ := r.CreateProvider(pool.Provider{Name: "p1", BaseURL: "https://a", Format: pool.FormatOpenAI, Enabled: true})
	p2, _ := r.CreateProvider(pool.Provider{Name: "p2", BaseURL: "https://b", Format: pool.FormatOpenAI, Enabled: true})
	e1, _ := r.CreateEndpoint(pool.Endpoint{ProviderID: p1.ID, UpstreamModelID: "m1", Pool: pool.Normal, Enabled: true, Weight: 1})
	e2, _ := r.CreateEndpoint(pool.Endpoint{ProviderID: p2.ID, UpstreamModelID: "m2", Pool: pool.Normal, Enabled: true, Weight: 1})

	now := time.Now()
	first := sel.Candidates(pool.Normal, now)
	require.Len(t, first, 2)
	assert.Equal(t, e1.ID, first[0].ID)

	second := sel.Candidates(pool.Normal, now)
	require.Len(t, second, 2)
	assert.Equal(t, e2.ID, second[0].ID)
}

func TestCandidatesSkipsUnavailableEndpoints(t *testing.T) {
	r, h := setup(t)
	sel := New(r, h)

	p1, _ := r.CreateProvider(pool.Provider{Name: "p1", BaseURL: "https://a", Format: pool.FormatOpenAI, Enabled: true})
	e1, _ := r.CreateEndpoint(pool.Endpoint{ProviderID: p1.ID, UpstreamModelID: "m1", Pool: pool.Normal, Enabled: true, Weight: 1})

	now := time.Now()
	h.MarkFailure(e1.ID, 100, nil, "boom", 60*time.Second, now)

	// Within cooldown and only one provider: falls through to degraded
	// fallback, which still yields the enabled endpoint.
	got := sel.Candidates(pool.Normal, now.Add(time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, e1.ID, got[0].ID)
}

func TestCandidatesDegradedFallbackExcludesDisabled(t *testing.T) {
	r, h := setup(t)
	sel := New(r, h)

	p1, _ := r.CreateProvider(pool.Provider{Name: "p1", BaseURL: "https://a", Format: pool.FormatOpenAI, Enabled: true})
	e1, _ := r.CreateEndpoint(pool.Endpoint{ProviderID: p1.ID, UpstreamModelID: "m1", Pool: pool.Normal, Enabled: false, Weight: 1})

	now := time.Now()
	got := sel.Candidates(pool.Normal, now)
	assert.Empty(t, got)
	_ = e1
}

func TestCandidatesExcludesEndpointsOfDisabledProvider(t *testing.T) {
	r, h := setup(t)
	sel := New(r, h)

	p1, _ := r.CreateProvider(pool.Provider{Name: "p1", BaseURL: "https://a", Format: pool.FormatOpenAI, Enabled: true})
	p2, _ := r.CreateProvider(pool.Provider{Name: "p2", BaseURL: "https://b", Format: pool.FormatOpenAI, Enabled: false})
	e1, _ := r.CreateEndpoint(pool.Endpoint{ProviderID: p1.ID, UpstreamModelID: "m1", Pool: pool.Normal, Enabled: true, Weight: 1})
	_, _ = r.CreateEndpoint(pool.Endpoint{ProviderID: p2.ID, UpstreamModelID: "m2", Pool: pool.Normal, Enabled: true, Weight: 1})

	now := time.Now()
	got := sel.Candidates(pool.Normal, now)
	require.Len(t, got, 1)
	assert.Equal(t, e1.ID, got[0].ID)
}

func TestCandidatesDegradedFallbackExcludesDisabledProvider(t *testing.T) {
	r, h := setup(t)
	sel := New(r, h)

	p1, _ := r.CreateProvider(pool.Provider{Name: "p1", BaseURL: "https://a", Format: pool.FormatOpenAI, Enabled: true})
	p2, _ := r.CreateProvider(pool.Provider{Name: "p2", BaseURL: "https://b", Format: pool.FormatOpenAI, Enabled: false})
	e1, _ := r.CreateEndpoint(pool.Endpoint{ProviderID: p1.ID, UpstreamModelID: "m1", Pool: pool.Normal, Enabled: true, Weight: 1})
	_, _ = r.CreateEndpoint(pool.Endpoint{ProviderID: p2.ID, UpstreamModelID: "m2", Pool: pool.Normal, Enabled: true, Weight: 1})

	now := time.Now()
	h.MarkFailure(e1.ID, 100, nil, "boom", 60*time.Second, now)

	// p1's only endpoint is cooling, so the primary pass is empty; the
	// degraded fallback still must not surface p2's endpoint since p2
	// itself is disabled.
	got := sel.Candidates(pool.Normal, now.Add(time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, e1.ID, got[0].ID)
}

func TestCandidatesNeverYieldsSameEndpointTwice(t *testing.T) {
	r, h := setup(t)
	sel := New(r, h)

	p1, _ := r.CreateProvider(pool.Provider{Name: "p1", BaseURL: "https://a", Format: pool.FormatOpenAI, Enabled: true})
	e1, _ := r.CreateEndpoint(pool.Endpoint{ProviderID: p1.ID, UpstreamModelID: "m1", Pool: pool.Normal, Enabled: true, Weight: 1})

	now := time.Now()
	got := sel.Candidates(pool.Normal, now)
	require.Len(t, got, 1)
	assert.Equal(t, e1.ID, got[0].ID)
}

func TestWeightedPickSingleCandidate(t *testing.T) {
	e := pool.Endpoint{ID: 7, Weight: 3}
	assert.Equal(t, e, weightedPick([]pool.Endpoint{e}))
}

func TestWeightedPickZeroWeightTreatedAsOne(t *testing.T) {
	candidates := []pool.Endpoint{{ID: 1, Weight: 0}, {ID: 2, Weight: 0}}
	for i := 0; i < 20; i++ {
		picked := weightedPick(candidates)
		assert.Contains(t, []int64{1, 2}, picked.ID)
	}
}
