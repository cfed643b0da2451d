package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/store"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db, logger: zap.NewNop()}, mock
}

func TestHealthCheck(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectPing()
	require.NoError(t, s.HealthCheck(context.Background()))
}

func TestSaveProvider(t *testing.T) {
	s, mock := newTestStore(t)
	p := pool.Provider{ID: 1, Name: "acme", BaseURL: "https://a", APIKey: "k", Format: pool.FormatOpenAI, Enabled: true, CreatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO providers").
		WithArgs(p.ID, p.Name, p.BaseURL, p.APIKey, string(p.Format), p.Enabled, p.TotalCount, p.SuccessCount, p.ErrorCount, p.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.SaveProvider(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAllProviders(t *testing.T) {
	s, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT id, name, base_url").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "base_url", "api_key", "format", "enabled", "total_count", "success_count", "error_count", "created_at"}).
			AddRow(int64(1), "acme", "https://a", "k", "openai", true, int64(3), int64(2), int64(1), now))
	mock.ExpectQuery("SELECT id, provider_id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider_id", "upstream_model_id", "pool", "enabled", "weight", "min_interval_seconds", "priority"}).
			AddRow(int64(10), int64(1), "gpt-4o-mini", "tool", true, 1, 0, 0))
	mock.ExpectQuery("SELECT tag, virtual_model").
		WillReturnRows(sqlmock.NewRows([]string{"tag", "virtual_model", "cooldown_seconds", "timeout_seconds", "max_retries"}).
			AddRow("tool", "haiku", 60, 60, 0))

	providers, endpoints, configs, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "acme", providers[0].Name)
	require.Len(t, endpoints, 1)
	assert.Equal(t, pool.Tool, endpoints[0].Pool)
	require.Len(t, configs, 1)
	assert.Equal(t, "haiku", configs[0].VirtualModel)
}

func TestDeleteProviderCascade(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM endpoints WHERE provider_id").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM providers WHERE id").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteProviderCascade(context.Background(), 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProviderCascadeRollsBackOnError(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM endpoints WHERE provider_id").
		WithArgs(int64(1)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	require.Error(t, s.DeleteProviderCascade(context.Background(), 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListLogsAppliesFilters(t *testing.T) {
	s, mock := newTestStore(t)
	tag := pool.Normal

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(string(tag)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT id, pool, requested_model").
		WithArgs(string(tag), 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "pool", "requested_model", "actual_model", "provider_name", "success", "http_status", "error", "latency_ms", "input_tokens", "output_tokens", "created_at"}).
			AddRow("log-1", "normal", "sonnet", "claude-3-5-sonnet", "acme", true, nil, nil, 120, nil, nil, time.Now()))

	entries, total, err := s.ListLogs(context.Background(), store.LogFilter{Pool: &tag}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "sonnet", entries[0].RequestedModel)
}

func TestClearLogs(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("DELETE FROM dispatch_logs").WillReturnResult(sqlmock.NewResult(0, 5))
	require.NoError(t, s.ClearLogs(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
