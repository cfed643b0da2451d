package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmpool/gateway/internal/logsink"
	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/registry"
	"github.com/llmpool/gateway/internal/selector"
	"github.com/llmpool/gateway/internal/state"
	"github.com/llmpool/gateway/internal/translator"
)

func newTestDispatcher(t *testing.T, baseURL string, format pool.WireFormat) (*Dispatcher, *registry.Registry, int64) {
	reg := registry.New(registry.VirtualModels{"sonnet": pool.Normal})
	health := state.New()
	sel := selector.New(reg, health)
	logs := logsink.New(10)
	t.Cleanup(logs.Close)

	p, err := reg.CreateProvider(pool.Provider{Name: "acme", BaseURL: baseURL, Format: format, Enabled: true})
	require.NoError(t, err)
	_, err = reg.CreateEndpoint(pool.Endpoint{ProviderID: p.ID, UpstreamModelID: "m1", Pool: pool.Normal, Enabled: true, Weight: 1})
	require.NoError(t, err)

	d := New(reg, sel, health, logs, http.DefaultClient, nil)
	return d, reg, p.ID
}

func TestDispatchNonStreamingOpenAIToOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := translator.OpenAIResponse{
			ID: "chatcmpl-1",
			Choices: []translator.OpenAIChoice{{
				Message:      translator.OpenAIMessage{Role: "assistant", Content: "hi"},
				FinishReason: "stop",
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	d, _, _ := newTestDispatcher(t, srv.URL, pool.FormatOpenAI)

	req := ClientRequest{
		VirtualModel:  "sonnet",
		ClientFormat:  translator.OpenAI,
		OpenAIRequest: &translator.OpenAIRequest{Messages: []translator.OpenAIMessage{{Role: "user", Content: "hi"}}},
	}
	result, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.OpenAIResponse)
	assert.Equal(t, "hi", result.OpenAIResponse.Choices[0].Message.Content)
	assert.Equal(t, "acme", result.ProviderName)
}

func TestDispatchTranslatesAnthropicClientToOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translator.OpenAIRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "m1", req.Model)
		resp := translator.OpenAIResponse{
			Choices: []translator.OpenAIChoice{{Message: translator.OpenAIMessage{Role: "assistant", Content: "hi"}, FinishReason: "stop"}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	d, _, _ := newTestDispatcher(t, srv.URL, pool.FormatOpenAI)

	req := ClientRequest{
		VirtualModel: "sonnet",
		ClientFormat: translator.Anthropic,
		AnthropicRequest: &translator.AnthropicRequest{
			MaxTokens: 100,
			Messages:  []translator.AnthropicMessage{{Role: "user", Content: []translator.AnthropicContent{{Type: "text", Text: "hi"}}}},
		},
	}
	result, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.AnthropicResponse)
	assert.Equal(t, "end_turn", result.AnthropicResponse.StopReason)
}

func TestDispatchUnknownVirtualModel(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "http://unused", pool.FormatOpenAI)
	_, err := d.Dispatch(context.Background(), ClientRequest{VirtualModel: "nope", ClientFormat: translator.OpenAI, OpenAIRequest: &translator.OpenAIRequest{}})
	require.Error(t, err)
}

func TestDispatchFailsOverOnUpstreamError(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(translator.OpenAIResponse{
			Choices: []translator.OpenAIChoice{{Message: translator.OpenAIMessage{Content: "ok"}, FinishReason: "stop"}},
		})
	}))
	defer good.Close()

	reg := registry.New(registry.VirtualModels{"sonnet": pool.Normal})
	health := state.New()
	sel := selector.New(reg, health)
	logs := logsink.New(10)
	defer logs.Close()

	p1, _ := reg.CreateProvider(pool.Provider{Name: "bad", BaseURL: bad.URL, Format: pool.FormatOpenAI, Enabled: true})
	p2, _ := reg.CreateProvider(pool.Provider{Name: "good", BaseURL: good.URL, Format: pool.FormatOpenAI, Enabled: true})
	reg.CreateEndpoint(pool.Endpoint{ProviderID: p1.ID, UpstreamModelID: "m1", Pool: pool.Normal, Enabled: true, Weight: 1})
	reg.CreateEndpoint(pool.Endpoint{ProviderID: p2.ID, UpstreamModelID: "m2", Pool: pool.Normal, Enabled: true, Weight: 1})

	d := New(reg, sel, health, logs, http.DefaultClient, nil)
	result, err := d.Dispatch(context.Background(), ClientRequest{
		VirtualModel:  "sonnet",
		ClientFormat:  translator.OpenAI,
		OpenAIRequest: &translator.OpenAIRequest{Messages: []translator.OpenAIMessage{{Role: "user", Content: "hi"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.OpenAIResponse.Choices[0].Message.Content)
}

func TestDispatchAllCandidatesFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	d, _, _ := newTestDispatcher(t, bad.URL, pool.FormatOpenAI)
	_, err := d.Dispatch(context.Background(), ClientRequest{
		VirtualModel:  "sonnet",
		ClientFormat:  translator.OpenAI,
		OpenAIRequest: &translator.OpenAIRequest{Messages: []translator.OpenAIMessage{{Role: "user", Content: "hi"}}},
	})
	require.Error(t, err)
}

func TestDispatchPoolEmptyWhenNoEndpoints(t *testing.T) {
	reg := registry.New(registry.VirtualModels{"sonnet": pool.Normal})
	health := state.New()
	sel := selector.New(reg, health)
	logs := logsink.New(10)
	defer logs.Close()
	d := New(reg, sel, health, logs, http.DefaultClient, nil)

	_, err := d.Dispatch(context.Background(), ClientRequest{VirtualModel: "sonnet", ClientFormat: translator.OpenAI, OpenAIRequest: &translator.OpenAIRequest{}})
	require.Error(t, err)
}
