// Package dispatcher is the request entry point: it resolves a virtual
// model to a pool, asks the selector for candidates, translates to
// each candidate's wire format in turn, calls upstream and fails over
// on error, recording every attempt to state and the log sink.
//
// Grounded on the teacher's services/routing/service.go retry loop
// (ExecuteWithFailover) generalized from its single provider-list
// iteration into the pool-scoped, translator-aware pipeline spec.md
// §4.5 describes; the upstream HTTP call shape (client construction,
// header setup, buildRequest/do/handleErrorResponse split) follows
// services/providers/openai/adapter.go.
package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llmpool/gateway/internal/apperr"
	"github.com/llmpool/gateway/internal/logsink"
	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/registry"
	"github.com/llmpool/gateway/internal/selector"
	"github.com/llmpool/gateway/internal/state"
	"github.com/llmpool/gateway/internal/translator"
)

// Dispatcher wires together the registry, selector, endpoint state,
// log sink and an HTTP client to carry out one client request.
type Dispatcher struct {
	reg    *registry.Registry
	sel    *selector.Selector
	health *state.Store
	logs   *logsink.Sink
	client *http.Client
	log    *zap.Logger
}

// New builds a Dispatcher. client is reused across every upstream call;
// its per-call timeout is overridden per pool via context deadlines.
func New(reg *registry.Registry, sel *selector.Selector, health *state.Store, logs *logsink.Sink, client *http.Client, log *zap.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{reg: reg, sel: sel, health: health, logs: logs, client: client, log: log}
}

// ClientRequest is the inbound request shape-agnostic wrapper the
// handlers build: which virtual model was asked for, what wire format
// the client spoke, and the raw decoded request in that format.
type ClientRequest struct {
	VirtualModel  string
	ClientFormat  translator.Format
	OpenAIRequest *translator.OpenAIRequest
	AnthropicRequest *translator.AnthropicRequest
	Stream        bool
}

// Result is a completed non-streaming dispatch.
type Result struct {
	OpenAIResponse    *translator.OpenAIResponse
	AnthropicResponse *translator.AnthropicResponse
	ProviderName      string
	ActualModel       string
}

// Dispatch executes the full candidate/retry pipeline for a
// non-streaming request.
func (d *Dispatcher) Dispatch(ctx context.Context, req ClientRequest) (Result, error) {
	tag, err := d.reg.ResolveVirtualModel(req.VirtualModel)
	if err != nil {
		return Result{}, err
	}
	cfg, err := d.reg.GetPoolConfig(tag)
	if err != nil {
		return Result{}, err
	}

	candidates := d.sel.Candidates(tag, time.Now())
	if len(candidates) == 0 {
		return Result{}, apperr.New(apperr.TypePoolEmpty, fmt.Sprintf("pool %q has no available endpoints", tag), nil)
	}

	budget := len(candidates)
	if cfg.MaxRetries > 0 && cfg.MaxRetries < budget {
		budget = cfg.MaxRetries
	}

	providers := d.reg.ProviderLookup()
	var lastErrs []string

	for i := 0; i < budget; i++ {
		ep := candidates[i]
		p, ok := providers[ep.ProviderID]
		if !ok || !p.Enabled {
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		start := time.Now()
		result, status, attemptErr := d.attempt(attemptCtx, req, p, ep)
		cancel()
		latencyMs := int(time.Since(start).Milliseconds())

		if attemptErr == nil {
			d.health.MarkSuccess(ep.ID, latencyMs, time.Now())
			d.reg.RecordProviderOutcome(p.ID, true)
			d.logAttempt(tag, req.VirtualModel, ep.UpstreamModelID, p.Name, true, status, nil, latencyMs, result)
			result.ProviderName = p.Name
			result.ActualModel = ep.UpstreamModelID
			return result, nil
		}

		d.health.MarkFailure(ep.ID, latencyMs, status, attemptErr.Error(), time.Duration(cfg.CooldownSeconds)*time.Second, time.Now())
		d.reg.RecordProviderOutcome(p.ID, false)
		msg := attemptErr.Error()
		d.logAttempt(tag, req.VirtualModel, ep.UpstreamModelID, p.Name, false, status, &msg, latencyMs, Result{})
		lastErrs = append(lastErrs, fmt.Sprintf("%s (%s): %s", p.Name, ep.UpstreamModelID, msg))
		if d.log != nil {
			d.log.Warn("dispatch attempt failed", zap.String("provider", p.Name), zap.String("model", ep.UpstreamModelID), zap.Error(attemptErr))
		}
	}

	return Result{}, apperr.New(apperr.TypeUpstream, "all candidates failed: "+strings.Join(lastErrs, "; "), apperr.ErrAllCandidatesFailed)
}

func (d *Dispatcher) logAttempt(tag pool.Tag, requested, actual, providerName string, success bool, status *int, errMsg *string, latencyMs int, result Result) {
	if d.logs == nil {
		return
	}
	entry := pool.LogEntry{
		Pool:           tag,
		RequestedModel: requested,
		ActualModel:    actual,
		ProviderName:   providerName,
		Success:        success,
		HTTPStatus:     status,
		Error:          errMsg,
		LatencyMs:      latencyMs,
	}
	if result.OpenAIResponse != nil {
		in, out := result.OpenAIResponse.Usage.PromptTokens, result.OpenAIResponse.Usage.CompletionTokens
		entry.InputTokens, entry.OutputTokens = &in, &out
	} else if result.AnthropicResponse != nil {
		in, out := result.AnthropicResponse.Usage.InputTokens, result.AnthropicResponse.Usage.OutputTokens
		entry.InputTokens, entry.OutputTokens = &in, &out
	}
	d.logs.Append(entry)
}

// attempt issues one upstream call for one candidate, translating
// request and response across client/provider format boundaries as
// needed.
func (d *Dispatcher) attempt(ctx context.Context, req ClientRequest, p pool.Provider, ep pool.Endpoint) (Result, *int, error) {
	body, path, err := d.buildUpstreamRequest(req, p, ep)
	if err != nil {
		return Result{}, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return Result{}, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuthHeader(httpReq, p)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return Result{}, nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &status, fmt.Errorf("reading upstream response: %w", err)
	}
	if status < 200 || status >= 300 {
		return Result{}, &status, fmt.Errorf("upstream returned %d: %s", status, truncate(string(respBody), 500))
	}

	result, err := d.translateUpstreamResponse(req, p, respBody)
	if err != nil {
		return Result{}, &status, err
	}
	return result, &status, nil
}

func (d *Dispatcher) buildUpstreamRequest(req ClientRequest, p pool.Provider, ep pool.Endpoint) ([]byte, string, error) {
	switch p.Format {
	case pool.FormatOpenAI:
		var out translator.OpenAIRequest
		if req.ClientFormat == translator.OpenAI {
			out = *req.OpenAIRequest
			out.Model = ep.UpstreamModelID
		} else {
			converted, err := translator.RequestToOpenAI(*req.AnthropicRequest, ep.UpstreamModelID)
			if err != nil {
				return nil, "", err
			}
			out = converted
		}
		b, err := json.Marshal(out)
		return b, "/chat/completions", err

	case pool.FormatAnthropic:
		var out translator.AnthropicRequest
		if req.ClientFormat == translator.Anthropic {
			out = *req.AnthropicRequest
			out.Model = ep.UpstreamModelID
		} else {
			converted, err := translator.RequestToAnthropic(*req.OpenAIRequest, ep.UpstreamModelID)
			if err != nil {
				return nil, "", err
			}
			out = converted
		}
		b, err := json.Marshal(out)
		path := "/v1/messages"
		if strings.HasSuffix(strings.TrimRight(p.BaseURL, "/"), "/v1") {
			path = "/messages"
		}
		return b, path, err
	}
	return nil, "", apperr.New(apperr.TypeInternal, "unknown provider format", nil)
}

func (d *Dispatcher) translateUpstreamResponse(req ClientRequest, p pool.Provider, body []byte) (Result, error) {
	switch p.Format {
	case pool.FormatOpenAI:
		var resp translator.OpenAIResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return Result{}, apperr.New(apperr.TypeTranslation, "malformed upstream response", err)
		}
		if req.ClientFormat == translator.OpenAI {
			return Result{OpenAIResponse: &resp}, nil
		}
		converted := translator.ResponseToAnthropic(resp, req.VirtualModel)
		return Result{AnthropicResponse: &converted}, nil

	case pool.FormatAnthropic:
		var resp translator.AnthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return Result{}, apperr.New(apperr.TypeTranslation, "malformed upstream response", err)
		}
		if req.ClientFormat == translator.Anthropic {
			return Result{AnthropicResponse: &resp}, nil
		}
		converted, err := translator.ResponseToOpenAI(resp, req.VirtualModel)
		if err != nil {
			return Result{}, err
		}
		return Result{OpenAIResponse: &converted}, nil
	}
	return Result{}, apperr.New(apperr.TypeInternal, "unknown provider format", nil)
}

func setAuthHeader(req *http.Request, p pool.Provider) {
	switch p.Format {
	case pool.FormatAnthropic:
		req.Header.Set("x-api-key", p.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// newLineScanner builds the line scanner the streaming path in
// stream.go reads upstream SSE bodies with; lines may be up to 1 MiB.
func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
