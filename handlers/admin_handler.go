package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/llmpool/gateway/internal/adminauth"
	"github.com/llmpool/gateway/internal/apperr"
	"github.com/llmpool/gateway/internal/logsink"
	"github.com/llmpool/gateway/internal/logtail"
	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/registry"
	"github.com/llmpool/gateway/internal/state"
	"github.com/llmpool/gateway/internal/store"
	"github.com/llmpool/gateway/middleware"
	"github.com/llmpool/gateway/utils"
)

// AdminHandler is the thin CRUD surface over the Registry and Endpoint
// State described in spec.md §4.7, plus login, log paging/export and
// the live log tail. It writes through to the Store on every mutation
// so the Registry's in-memory view survives a restart.
type AdminHandler struct {
	reg    *registry.Registry
	health *state.Store
	logs   *logsink.Sink
	hub    *logtail.Hub
	st     store.Store
	auth   *adminauth.Authenticator
	client *http.Client
	logger *zap.Logger
}

// NewAdminHandler creates a new AdminHandler. hub receives every entry
// logs.Append writes, feeding the live log tail; the caller is
// expected to have already registered it with logs.Subscribe.
func NewAdminHandler(reg *registry.Registry, health *state.Store, logs *logsink.Sink, hub *logtail.Hub, st store.Store, auth *adminauth.Authenticator, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{reg: reg, health: health, logs: logs, hub: hub, st: st, auth: auth, client: &http.Client{Timeout: 15 * time.Second}, logger: logger}
}

// HandleLogsStream handles GET /admin/logs/stream: upgrades to a
// websocket and pushes each newly appended log entry as JSON until the
// client disconnects.
func (h *AdminHandler) HandleLogsStream(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}

// --- Login ---

type loginRequest struct {
	Password string `json:"password" validate:"required"`
}

// HandleLogin handles POST /admin/login: exchanges ADMIN_PASSWORD for a
// signed session cookie. The bare bearer continues to work on every
// other admin route without going through login.
func (h *AdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := h.auth.CheckPassword(req.Password); err != nil {
		_ = utils.WriteUnauthorized(w, "Invalid password")
		return
	}

	token, expiresAt, err := h.auth.IssueSession()
	if err != nil {
		h.logger.Error("failed to issue admin session", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to issue session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	_ = utils.WriteOK(w, map[string]string{"expires_at": expiresAt.UTC().Format(time.RFC3339)})
}

// --- Providers ---

type providerRequest struct {
	Name    string          `json:"name" validate:"required"`
	BaseURL string          `json:"base_url" validate:"required"`
	APIKey  string          `json:"api_key"`
	Format  pool.WireFormat `json:"format" validate:"required,oneof=openai anthropic"`
	Enabled bool            `json:"enabled"`
}

// HandleListProviders handles GET /admin/providers.
func (h *AdminHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.reg.ListProviders())
}

// HandleCreateProvider handles POST /admin/providers.
func (h *AdminHandler) HandleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	p, err := h.reg.CreateProvider(pool.Provider{Name: req.Name, BaseURL: req.BaseURL, APIKey: req.APIKey, Format: req.Format, Enabled: req.Enabled})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := h.st.SaveProvider(r.Context(), p); err != nil {
		h.logger.Error("failed to persist provider", zap.Error(err))
	}
	_ = utils.WriteCreated(w, p)
}

// HandleUpdateProvider handles PUT /admin/providers/{id}.
func (h *AdminHandler) HandleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid provider id", nil)
		return
	}

	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	p, err := h.reg.UpdateProvider(pool.Provider{ID: id, Name: req.Name, BaseURL: req.BaseURL, APIKey: req.APIKey, Format: req.Format, Enabled: req.Enabled})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := h.st.SaveProvider(r.Context(), p); err != nil {
		h.logger.Error("failed to persist provider", zap.Error(err))
	}
	_ = utils.WriteOK(w, p)
}

// HandleDeleteProvider handles DELETE /admin/providers/{id}, cascading
// to every endpoint the provider owns (spec.md §3).
func (h *AdminHandler) HandleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid provider id", nil)
		return
	}
	if err := h.reg.DeleteProvider(id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := h.st.DeleteProviderCascade(r.Context(), id); err != nil {
		h.logger.Error("failed to persist provider deletion", zap.Error(err))
	}
	utils.WriteNoContent(w)
}

// fetchModelsResponse is the probe result the admin UI uses to drive a
// batch endpoint create; it is never persisted (spec.md §4.7).
type fetchModelsResponse struct {
	Models []string `json:"models"`
}

// HandleFetchModels handles POST /admin/providers/{id}/fetch-models.
func (h *AdminHandler) HandleFetchModels(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid provider id", nil)
		return
	}
	p, err := h.reg.GetProvider(id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	models, err := h.probeModels(r.Context(), p)
	if err != nil {
		HandleServiceError(w, apperr.New(apperr.TypeUpstream, "model probe failed: "+err.Error(), err), h.logger)
		return
	}
	_ = utils.WriteOK(w, fetchModelsResponse{Models: models})
}

func (h *AdminHandler) probeModels(ctx context.Context, p pool.Provider) ([]string, error) {
	path := "/models"
	base := strings.TrimRight(p.BaseURL, "/")
	if p.Format == pool.FormatAnthropic && !strings.HasSuffix(base, "/v1") {
		path = "/v1/models"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, err
	}
	switch p.Format {
	case pool.FormatAnthropic:
		req.Header.Set("x-api-key", p.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	models := make([]string, 0, len(body.Data))
	for _, m := range body.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// --- Endpoints ---

type endpointRequest struct {
	ProviderID         int64    `json:"provider_id" validate:"required"`
	UpstreamModelID    string   `json:"upstream_model_id" validate:"required"`
	Pool               pool.Tag `json:"pool" validate:"required,oneof=tool normal advanced"`
	Enabled            bool     `json:"enabled"`
	Weight             int      `json:"weight"`
	MinIntervalSeconds int      `json:"min_interval_seconds"`
	Priority           int      `json:"priority"`
}

// HandleListEndpoints handles GET /admin/endpoints, optionally filtered
// by pool/provider_id/enabled query params.
func (h *AdminHandler) HandleListEndpoints(w http.ResponseWriter, r *http.Request) {
	var filter pool.EndpointFilter
	q := r.URL.Query()
	if v := q.Get("pool"); v != "" {
		tag := pool.Tag(v)
		filter.Pool = &tag
	}
	if v := q.Get("provider_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid provider_id", nil)
			return
		}
		filter.ProviderID = &id
	}
	if v := q.Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid enabled", nil)
			return
		}
		filter.Enabled = &enabled
	}
	_ = utils.WriteOK(w, h.reg.ListEndpoints(filter))
}

// HandleCreateEndpoint handles POST /admin/endpoints.
func (h *AdminHandler) HandleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	e, err := h.reg.CreateEndpoint(pool.Endpoint{
		ProviderID:         req.ProviderID,
		UpstreamModelID:    req.UpstreamModelID,
		Pool:               req.Pool,
		Enabled:            req.Enabled,
		Weight:             req.Weight,
		MinIntervalSeconds: req.MinIntervalSeconds,
		Priority:           req.Priority,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := h.st.SaveEndpoint(r.Context(), e); err != nil {
		h.logger.Error("failed to persist endpoint", zap.Error(err))
	}
	_ = utils.WriteCreated(w, e)
}

type endpointsBatchRequest struct {
	ProviderID       int64    `json:"provider_id" validate:"required"`
	Pool             pool.Tag `json:"pool" validate:"required,oneof=tool normal advanced"`
	UpstreamModelIDs []string `json:"upstream_model_ids" validate:"required,min=1"`
	Weight           int      `json:"weight"`
}

// HandleCreateEndpointsBatch handles POST /admin/endpoints/batch
// (spec.md §4.7), deduplicating against the uniqueness constraint.
func (h *AdminHandler) HandleCreateEndpointsBatch(w http.ResponseWriter, r *http.Request) {
	var req endpointsBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	created, err := h.reg.CreateEndpointsBatch(req.ProviderID, req.Pool, req.UpstreamModelIDs, req.Weight)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	for _, e := range created {
		if err := h.st.SaveEndpoint(r.Context(), e); err != nil {
			h.logger.Error("failed to persist batch endpoint", zap.Error(err))
		}
	}
	_ = utils.WriteCreated(w, created)
}

type updateEndpointRequest struct {
	Enabled            bool `json:"enabled"`
	Weight             int  `json:"weight"`
	MinIntervalSeconds int  `json:"min_interval_seconds"`
	Priority           int  `json:"priority"`
}

// HandleUpdateEndpoint handles PUT /admin/endpoints/{id}: enabled,
// weight, min-interval, priority (spec.md §4.7). Health state is not
// touched here.
func (h *AdminHandler) HandleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid endpoint id", nil)
		return
	}

	var req updateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	e, err := h.reg.UpdateEndpoint(id, req.Enabled, req.Weight, req.MinIntervalSeconds, req.Priority)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := h.st.SaveEndpoint(r.Context(), e); err != nil {
		h.logger.Error("failed to persist endpoint", zap.Error(err))
	}
	_ = utils.WriteOK(w, e)
}

// HandleDeleteEndpoint handles DELETE /admin/endpoints/{id}.
func (h *AdminHandler) HandleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid endpoint id", nil)
		return
	}
	if err := h.reg.DeleteEndpoint(id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.health.Forget(id)
	if err := h.st.DeleteEndpoint(r.Context(), id); err != nil {
		h.logger.Error("failed to persist endpoint deletion", zap.Error(err))
	}
	utils.WriteNoContent(w)
}

// --- Pool config ---

// HandleListPoolConfigs handles GET /admin/pools.
func (h *AdminHandler) HandleListPoolConfigs(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.reg.ListPoolConfigs())
}

type updatePoolConfigRequest struct {
	CooldownSeconds int `json:"cooldown_seconds" validate:"gte=0"`
	TimeoutSeconds  int `json:"timeout_seconds" validate:"gte=0"`
	MaxRetries      int `json:"max_retries" validate:"gte=0"`
}

// HandleUpdatePoolConfig handles PUT /admin/pools/{tag}/config. Per
// spec.md §9, shortening cooldown-seconds does not retroactively wake
// endpoints already cooling under the old value.
func (h *AdminHandler) HandleUpdatePoolConfig(w http.ResponseWriter, r *http.Request) {
	tag := pool.Tag(chi.URLParam(r, "tag"))

	var req updatePoolConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	cfg, err := h.reg.UpdatePoolConfig(tag, req.CooldownSeconds, req.TimeoutSeconds, req.MaxRetries)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := h.st.SavePoolConfig(r.Context(), cfg); err != nil {
		h.logger.Error("failed to persist pool config", zap.Error(err))
	}
	_ = utils.WriteOK(w, cfg)
}

// --- Stats ---

type poolStats struct {
	Tag             pool.Tag `json:"tag"`
	VirtualModel    string   `json:"virtual_model"`
	EndpointCount   int      `json:"endpoint_count"`
	EnabledCount    int      `json:"enabled_count"`
	TotalCount      int64    `json:"total_count"`
	SuccessCount    int64    `json:"success_count"`
	ErrorCount      int64    `json:"error_count"`
	CoolingCount    int      `json:"cooling_count"`
}

type statsResponse struct {
	Pools []poolStats `json:"pools"`
}

// HandleStats handles GET /admin/stats, aggregating counters across
// the Registry and Endpoint State (spec.md §4.7).
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	out := statsResponse{}
	for _, tag := range pool.Tags {
		cfg, err := h.reg.GetPoolConfig(tag)
		if err != nil {
			continue
		}
		tagCopy := tag
		stats := poolStats{Tag: tag, VirtualModel: cfg.VirtualModel}
		for _, e := range h.reg.ListEndpoints(pool.EndpointFilter{Pool: &tagCopy}) {
			stats.EndpointCount++
			if e.Enabled {
				stats.EnabledCount++
			}
			snap := h.health.Get(e.ID)
			stats.TotalCount += snap.TotalCount
			stats.SuccessCount += snap.SuccessCount
			stats.ErrorCount += snap.ErrorCount
			if snap.CooldownUntil != nil && snap.CooldownUntil.After(now) {
				stats.CoolingCount++
			}
		}
		out.Pools = append(out.Pools, stats)
	}
	_ = utils.WriteOK(w, out)
}

// --- Logs ---

// HandleListLogs handles GET /admin/logs, paginated and filtered by
// pool/success/provider (spec.md §4.6).
func (h *AdminHandler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter logsink.Filter
	if v := q.Get("pool"); v != "" {
		tag := pool.Tag(v)
		filter.Pool = &tag
	}
	if v := q.Get("success"); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid success", nil)
			return
		}
		filter.Success = &success
	}
	if v := q.Get("provider"); v != "" {
		filter.ProviderName = &v
	}

	offset, limit := pageParams(q)
	entries, total := h.logs.List(filter, offset, limit)
	_ = utils.WriteOK(w, map[string]interface{}{"entries": entries, "total": total})
}

// HandleClearLogs handles DELETE /admin/logs.
func (h *AdminHandler) HandleClearLogs(w http.ResponseWriter, r *http.Request) {
	h.logs.Clear()
	if err := h.st.ClearLogs(r.Context()); err != nil {
		h.logger.Error("failed to clear persisted logs", zap.Error(err))
	}
	utils.WriteNoContent(w)
}

// HandleExportLogs handles GET /admin/logs/export: a gzip NDJSON dump
// of the full bounded log buffer for offline analysis.
func (h *AdminHandler) HandleExportLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="dispatch-log.ndjson.gz"`)
	w.WriteHeader(http.StatusOK)

	gz := gzip.NewWriter(w)
	defer gz.Close()

	enc := json.NewEncoder(gz)
	for _, entry := range h.logs.All() {
		if err := enc.Encode(entry); err != nil {
			h.logger.Warn("failed to encode log export entry", zap.Error(err))
			return
		}
	}
}

func parseID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}

func pageParams(q url.Values) (offset, limit int) {
	offset, _ = strconv.Atoi(q.Get("offset"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	return offset, limit
}

