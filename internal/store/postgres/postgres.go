// Package postgres is the durable Store implementation backing
// STORE_DRIVER=postgres: providers, endpoints, pool configuration and
// the dispatch log in four tables. endpoints.provider_id references
// providers(id) with ON DELETE CASCADE, and DeleteProviderCascade also
// deletes a provider's endpoints explicitly in the same transaction,
// matching the registry's transactive delete.
//
// Grounded on the teacher's repositories/postgres/connection.go (pool
// setup, HealthCheck, inline schema-string InitSchema) and
// transaction.go (GetExecutor tx-vs-db dispatch), adapted from the
// organizations/applications/users schema to providers/endpoints/logs.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/store"
)

// Store wraps a *sql.DB implementing store.Store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config mirrors the teacher's DatabaseConfig: DSN plus pool tunables.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New opens the connection pool, verifies connectivity and ensures the
// schema exists.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	logger.Info("postgres store ready")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS providers (
			id BIGINT PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			base_url TEXT NOT NULL,
			api_key TEXT NOT NULL,
			format VARCHAR(20) NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT true,
			total_count BIGINT NOT NULL DEFAULT 0,
			success_count BIGINT NOT NULL DEFAULT 0,
			error_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS endpoints (
			id BIGINT PRIMARY KEY,
			provider_id BIGINT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
			upstream_model_id VARCHAR(255) NOT NULL,
			pool VARCHAR(20) NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT true,
			weight INTEGER NOT NULL DEFAULT 1,
			min_interval_seconds INTEGER NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 0,
			UNIQUE(provider_id, upstream_model_id, pool)
		);

		CREATE TABLE IF NOT EXISTS pool_configs (
			tag VARCHAR(20) PRIMARY KEY,
			virtual_model VARCHAR(255) NOT NULL,
			cooldown_seconds INTEGER NOT NULL,
			timeout_seconds INTEGER NOT NULL,
			max_retries INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS dispatch_logs (
			id UUID PRIMARY KEY,
			pool VARCHAR(20) NOT NULL,
			requested_model VARCHAR(255) NOT NULL,
			actual_model VARCHAR(255) NOT NULL,
			provider_name VARCHAR(255) NOT NULL,
			success BOOLEAN NOT NULL,
			http_status INTEGER,
			error TEXT,
			latency_ms INTEGER NOT NULL,
			input_tokens INTEGER,
			output_tokens INTEGER,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_dispatch_logs_created_at ON dispatch_logs(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_dispatch_logs_pool ON dispatch_logs(pool);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.logger.Info("closing postgres store")
	return s.db.Close()
}

func (s *Store) LoadAll(ctx context.Context) ([]pool.Provider, []pool.Endpoint, []pool.Config, error) {
	providers, err := s.loadProviders(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	endpoints, err := s.loadEndpoints(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	configs, err := s.loadConfigs(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return providers, endpoints, configs, nil
}

func (s *Store) loadProviders(ctx context.Context) ([]pool.Provider, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, base_url, api_key, format, enabled, total_count, success_count, error_count, created_at
		FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer rows.Close()

	var out []pool.Provider
	for rows.Next() {
		var p pool.Provider
		var format string
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseURL, &p.APIKey, &format, &p.Enabled, &p.TotalCount, &p.SuccessCount, &p.ErrorCount, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning provider: %w", err)
		}
		p.Format = pool.WireFormat(format)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) loadEndpoints(ctx context.Context) ([]pool.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider_id, upstream_model_id, pool, enabled, weight, min_interval_seconds, priority
		FROM endpoints ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	var out []pool.Endpoint
	for rows.Next() {
		var e pool.Endpoint
		var tag string
		if err := rows.Scan(&e.ID, &e.ProviderID, &e.UpstreamModelID, &tag, &e.Enabled, &e.Weight, &e.MinIntervalSeconds, &e.Priority); err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		e.Pool = pool.Tag(tag)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) loadConfigs(ctx context.Context) ([]pool.Config, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, virtual_model, cooldown_seconds, timeout_seconds, max_retries FROM pool_configs`)
	if err != nil {
		return nil, fmt.Errorf("querying pool configs: %w", err)
	}
	defer rows.Close()

	var out []pool.Config
	for rows.Next() {
		var c pool.Config
		var tag string
		if err := rows.Scan(&tag, &c.VirtualModel, &c.CooldownSeconds, &c.TimeoutSeconds, &c.MaxRetries); err != nil {
			return nil, fmt.Errorf("scanning pool config: %w", err)
		}
		c.Tag = pool.Tag(tag)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveProvider(ctx context.Context, p pool.Provider) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, base_url, api_key, format, enabled, total_count, success_count, error_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, base_url = EXCLUDED.base_url, api_key = EXCLUDED.api_key,
			format = EXCLUDED.format, enabled = EXCLUDED.enabled, total_count = EXCLUDED.total_count,
			success_count = EXCLUDED.success_count, error_count = EXCLUDED.error_count`,
		p.ID, p.Name, p.BaseURL, p.APIKey, string(p.Format), p.Enabled, p.TotalCount, p.SuccessCount, p.ErrorCount, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving provider: %w", err)
	}
	return nil
}

func (s *Store) SaveEndpoint(ctx context.Context, e pool.Endpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO endpoints (id, provider_id, upstream_model_id, pool, enabled, weight, min_interval_seconds, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled, weight = EXCLUDED.weight,
			min_interval_seconds = EXCLUDED.min_interval_seconds, priority = EXCLUDED.priority`,
		e.ID, e.ProviderID, e.UpstreamModelID, string(e.Pool), e.Enabled, e.Weight, e.MinIntervalSeconds, e.Priority)
	if err != nil {
		return fmt.Errorf("saving endpoint: %w", err)
	}
	return nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting endpoint: %w", err)
	}
	return nil
}

func (s *Store) SavePoolConfig(ctx context.Context, c pool.Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_configs (tag, virtual_model, cooldown_seconds, timeout_seconds, max_retries)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tag) DO UPDATE SET
			cooldown_seconds = EXCLUDED.cooldown_seconds, timeout_seconds = EXCLUDED.timeout_seconds,
			max_retries = EXCLUDED.max_retries`,
		string(c.Tag), c.VirtualModel, c.CooldownSeconds, c.TimeoutSeconds, c.MaxRetries)
	if err != nil {
		return fmt.Errorf("saving pool config: %w", err)
	}
	return nil
}

func (s *Store) AppendLog(ctx context.Context, e pool.LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_logs (id, pool, requested_model, actual_model, provider_name, success, http_status, error, latency_ms, input_tokens, output_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, string(e.Pool), e.RequestedModel, e.ActualModel, e.ProviderName, e.Success, e.HTTPStatus, e.Error, e.LatencyMs, e.InputTokens, e.OutputTokens, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending log: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, filter store.LogFilter, offset, limit int) ([]pool.LogEntry, int, error) {
	where := ""
	var args []interface{}
	n := 1
	if filter.Pool != nil {
		where += fmt.Sprintf(" AND pool = $%d", n)
		args = append(args, string(*filter.Pool))
		n++
	}
	if filter.Success != nil {
		where += fmt.Sprintf(" AND success = $%d", n)
		args = append(args, *filter.Success)
		n++
	}
	if filter.ProviderName != nil {
		where += fmt.Sprintf(" AND provider_name = $%d", n)
		args = append(args, *filter.ProviderName)
		n++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM dispatch_logs WHERE true" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting logs: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT id, pool, requested_model, actual_model, provider_name, success, http_status, error, latency_ms, input_tokens, output_tokens, created_at
		FROM dispatch_logs WHERE true%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, n, n+1)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	var out []pool.LogEntry
	for rows.Next() {
		var e pool.LogEntry
		var tag string
		if err := rows.Scan(&e.ID, &tag, &e.RequestedModel, &e.ActualModel, &e.ProviderName, &e.Success, &e.HTTPStatus, &e.Error, &e.LatencyMs, &e.InputTokens, &e.OutputTokens, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning log: %w", err)
		}
		e.Pool = pool.Tag(tag)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *Store) ClearLogs(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dispatch_logs`); err != nil {
		return fmt.Errorf("clearing logs: %w", err)
	}
	return nil
}
