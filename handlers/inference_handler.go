package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/llmpool/gateway/internal/apperr"
	"github.com/llmpool/gateway/internal/dispatcher"
	"github.com/llmpool/gateway/internal/registry"
	"github.com/llmpool/gateway/internal/translator"
	"github.com/llmpool/gateway/middleware"
	"github.com/llmpool/gateway/utils"
)

// InferenceHandler serves the client-facing chat-completion surface,
// translating OpenAI/Anthropic wire requests into a dispatch and the
// dispatch's result back into the client's wire format.
type InferenceHandler struct {
	dispatcher *dispatcher.Dispatcher
	registry   *registry.Registry
	logger     *zap.Logger
}

// NewInferenceHandler creates a new InferenceHandler.
func NewInferenceHandler(d *dispatcher.Dispatcher, reg *registry.Registry, logger *zap.Logger) *InferenceHandler {
	return &InferenceHandler{dispatcher: d, registry: reg, logger: logger}
}

// HandleChatCompletions handles POST /v1/chat/completions (OpenAI wire format).
func (h *InferenceHandler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	var body translator.OpenAIRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("failed to parse chat completion request", zap.String("request_id", requestID), zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if body.Model == "" {
		_ = utils.WriteBadRequest(w, "model is required", nil)
		return
	}

	req := dispatcher.ClientRequest{
		VirtualModel:  body.Model,
		ClientFormat:  translator.OpenAI,
		OpenAIRequest: &body,
		Stream:        body.Stream,
	}

	if body.Stream {
		h.dispatchStream(w, r, req)
		return
	}
	h.dispatchOnce(w, r, req)
}

// HandleMessages handles POST /v1/messages (Anthropic wire format).
func (h *InferenceHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	var body translator.AnthropicRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("failed to parse messages request", zap.String("request_id", requestID), zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if body.Model == "" {
		_ = utils.WriteBadRequest(w, "model is required", nil)
		return
	}

	req := dispatcher.ClientRequest{
		VirtualModel:     body.Model,
		ClientFormat:     translator.Anthropic,
		AnthropicRequest: &body,
		Stream:           body.Stream,
	}

	if body.Stream {
		h.dispatchStream(w, r, req)
		return
	}
	h.dispatchOnce(w, r, req)
}

func (h *InferenceHandler) dispatchOnce(w http.ResponseWriter, r *http.Request, req dispatcher.ClientRequest) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	result, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		h.logger.Warn("dispatch failed", zap.String("request_id", requestID), zap.String("virtual_model", req.VirtualModel), zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	switch req.ClientFormat {
	case translator.OpenAI:
		_ = utils.WriteJSON(w, http.StatusOK, result.OpenAIResponse)
	case translator.Anthropic:
		_ = utils.WriteJSON(w, http.StatusOK, result.AnthropicResponse)
	}
}

func (h *InferenceHandler) dispatchStream(w http.ResponseWriter, r *http.Request, req dispatcher.ClientRequest) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = utils.WriteInternalServerError(w, "streaming unsupported")
		return
	}
	sw := flushWriter{w: w, f: flusher}

	if err := h.dispatcher.DispatchStream(r.Context(), req, sw); err != nil {
		if apperr.Is(err, apperr.TypeUnknownModel) || apperr.Is(err, apperr.TypePoolEmpty) || apperr.Is(err, apperr.TypeUpstream) {
			h.logger.Warn("stream dispatch failed before first byte", zap.String("request_id", requestID), zap.Error(err))
			HandleServiceError(w, err, h.logger)
			return
		}
		h.logger.Warn("stream dispatch failed mid-stream", zap.String("request_id", requestID), zap.Error(err))
	}
}

// flushWriter adapts an http.ResponseWriter+Flusher pair to
// dispatcher.StreamWriter. It is itself an http.ResponseWriter, so the
// dispatcher can set the SSE response headers through it.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) { return fw.w.Write(p) }
func (fw flushWriter) Flush()                      { fw.f.Flush() }
func (fw flushWriter) Header() http.Header         { return fw.w.Header() }
func (fw flushWriter) WriteHeader(statusCode int)  { fw.w.WriteHeader(statusCode) }

// HandleModels handles GET /v1/models, listing the virtual models the
// gateway currently exposes and the pool each resolves to.
func (h *InferenceHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	configs := h.registry.ListPoolConfigs()
	models := make([]modelInfo, 0, len(configs))
	for _, c := range configs {
		models = append(models, modelInfo{
			ID:     c.VirtualModel,
			Object: "model",
			Pool:   string(c.Tag),
		})
	}
	_ = utils.WriteOK(w, modelsResponse{Object: "list", Data: models})
}

type modelInfo struct {
	ID     string `json:"id"`
	Object string `json:"object"`
	Pool   string `json:"pool"`
}

type modelsResponse struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}
