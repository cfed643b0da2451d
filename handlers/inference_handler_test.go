package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmpool/gateway/internal/dispatcher"
	"github.com/llmpool/gateway/internal/logsink"
	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/registry"
	"github.com/llmpool/gateway/internal/selector"
	"github.com/llmpool/gateway/internal/state"
	"github.com/llmpool/gateway/internal/translator"
)

func newTestInferenceHandler(t *testing.T, upstreamURL string) (*InferenceHandler, *registry.Registry) {
	reg := registry.New(registry.VirtualModels{"sonnet": pool.Normal})
	health := state.New()
	sel := selector.New(reg, health)
	logs := logsink.New(10)
	t.Cleanup(logs.Close)

	p, err := reg.CreateProvider(pool.Provider{Name: "acme", BaseURL: upstreamURL, Format: pool.FormatOpenAI, Enabled: true})
	require.NoError(t, err)
	_, err = reg.CreateEndpoint(pool.Endpoint{ProviderID: p.ID, UpstreamModelID: "m1", Pool: pool.Normal, Enabled: true, Weight: 1})
	require.NoError(t, err)

	d := dispatcher.New(reg, sel, health, logs, http.DefaultClient, zap.NewNop())
	return NewInferenceHandler(d, reg, zap.NewNop()), reg
}

func TestHandleChatCompletions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(translator.OpenAIResponse{
			Choices: []translator.OpenAIChoice{{Message: translator.OpenAIMessage{Role: "assistant", Content: "hi there"}, FinishReason: "stop"}},
		})
	}))
	defer srv.Close()

	h, _ := newTestInferenceHandler(t, srv.URL)

	body, _ := json.Marshal(translator.OpenAIRequest{
		Model:    "sonnet",
		Messages: []translator.OpenAIMessage{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.HandleChatCompletions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp translator.OpenAIResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "hi there", resp.Choices[0].Message.Content)
}

func TestHandleChatCompletionsMissingModel(t *testing.T) {
	h, _ := newTestInferenceHandler(t, "http://unused")

	body, _ := json.Marshal(translator.OpenAIRequest{Messages: []translator.OpenAIMessage{{Role: "user", Content: "hi"}}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.HandleChatCompletions(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatCompletionsUnknownModel(t *testing.T) {
	h, _ := newTestInferenceHandler(t, "http://unused")

	body, _ := json.Marshal(translator.OpenAIRequest{Model: "nope", Messages: []translator.OpenAIMessage{{Role: "user", Content: "hi"}}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.HandleChatCompletions(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(translator.OpenAIResponse{
			Choices: []translator.OpenAIChoice{{Message: translator.OpenAIMessage{Role: "assistant", Content: "hi there"}, FinishReason: "stop"}},
		})
	}))
	defer srv.Close()

	h, _ := newTestInferenceHandler(t, srv.URL)

	body, _ := json.Marshal(translator.AnthropicRequest{
		Model:     "sonnet",
		MaxTokens: 100,
		Messages:  []translator.AnthropicMessage{{Role: "user", Content: []translator.AnthropicContent{{Type: "text", Text: "hi"}}}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.HandleMessages(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp translator.AnthropicResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestHandleModels(t *testing.T) {
	h, _ := newTestInferenceHandler(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()

	h.HandleModels(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	models := data["data"].([]interface{})
	require.Len(t, models, 1)
	entry := models[0].(map[string]interface{})
	assert.Equal(t, "sonnet", entry["id"])
	assert.Equal(t, "normal", entry["pool"])
}
