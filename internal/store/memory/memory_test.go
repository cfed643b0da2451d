package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/store"
)

func TestSaveAndLoadProvider(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveProvider(ctx, pool.Provider{ID: 1, Name: "acme"}))

	providers, _, _, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "acme", providers[0].Name)
}

func TestDeleteProviderCascade(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveProvider(ctx, pool.Provider{ID: 1, Name: "acme"}))
	require.NoError(t, s.SaveEndpoint(ctx, pool.Endpoint{ID: 1, ProviderID: 1}))
	require.NoError(t, s.SaveEndpoint(ctx, pool.Endpoint{ID: 2, ProviderID: 2}))

	require.NoError(t, s.DeleteProviderCascade(ctx, 1))
	providers, endpoints, _, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Empty(t, providers)
	require.Len(t, endpoints, 1)
	assert.Equal(t, int64(2), endpoints[0].ProviderID)
}

func TestAppendAndListLogs(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.AppendLog(ctx, pool.LogEntry{ID: "1", Pool: pool.Tool, Success: true}))
	require.NoError(t, s.AppendLog(ctx, pool.LogEntry{ID: "2", Pool: pool.Normal, Success: false}))

	tag := pool.Tool
	entries, total, err := s.ListLogs(ctx, store.LogFilter{Pool: &tag}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].ID)
}

func TestClearLogs(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AppendLog(ctx, pool.LogEntry{ID: "1"})
	require.NoError(t, s.ClearLogs(ctx))

	_, total, err := s.ListLogs(ctx, store.LogFilter{}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}
