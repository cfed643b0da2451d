package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llmpool/gateway/internal/apperr"
	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/translator"
)

// StreamWriter is the subset of http.ResponseWriter/Flusher the
// streaming dispatch needs, so handlers can pass the real
// ResponseWriter without this package importing net/http handler
// plumbing beyond what it already does.
type StreamWriter interface {
	Write(p []byte) (int, error)
	Flush()
}

// DispatchStream executes the candidate/retry pipeline for a streaming
// request. Candidates are retried only until the first upstream event
// is forwarded to w; once any byte has reached the client, failure
// surfaces as a truncated stream rather than a retry (spec.md §4.5).
func (d *Dispatcher) DispatchStream(ctx context.Context, req ClientRequest, w StreamWriter) error {
	tag, err := d.reg.ResolveVirtualModel(req.VirtualModel)
	if err != nil {
		return err
	}
	cfg, err := d.reg.GetPoolConfig(tag)
	if err != nil {
		return err
	}

	candidates := d.sel.Candidates(tag, time.Now())
	if len(candidates) == 0 {
		return apperr.New(apperr.TypePoolEmpty, fmt.Sprintf("pool %q has no available endpoints", tag), nil)
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

		firstByteCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		start := time.Now()
		sentAny, inTok, outTok, attemptErr := d.attemptStream(firstByteCtx, ctx, req, p, ep, w)
		cancel()
		latencyMs := int(time.Since(start).Milliseconds())

		if attemptErr == nil {
			in, out := inTok, outTok
			d.health.MarkSuccess(ep.ID, latencyMs, time.Now())
			d.reg.RecordProviderOutcome(p.ID, true)
			entry := pool.LogEntry{
				Pool: tag, RequestedModel: req.VirtualModel, ActualModel: ep.UpstreamModelID,
				ProviderName: p.Name, Success: true, LatencyMs: latencyMs,
				InputTokens: &in, OutputTokens: &out,
			}
			if d.logs != nil {
				d.logs.Append(entry)
			}
			return nil
		}

		if sentAny {
			// Bytes already reached the client; we cannot fail over.
			// Surface the error on the log and let the caller close
			// the stream.
			msg := attemptErr.Error()
			d.health.MarkFailure(ep.ID, latencyMs, nil, msg, time.Duration(cfg.CooldownSeconds)*time.Second, time.Now())
			d.reg.RecordProviderOutcome(p.ID, false)
			if d.logs != nil {
				d.logs.Append(pool.LogEntry{Pool: tag, RequestedModel: req.VirtualModel, ActualModel: ep.UpstreamModelID, ProviderName: p.Name, Success: false, Error: &msg, LatencyMs: latencyMs})
			}
			return attemptErr
		}

		msg := attemptErr.Error()
		d.health.MarkFailure(ep.ID, latencyMs, nil, msg, time.Duration(cfg.CooldownSeconds)*time.Second, time.Now())
		d.reg.RecordProviderOutcome(p.ID, false)
		if d.logs != nil {
			d.logs.Append(pool.LogEntry{Pool: tag, RequestedModel: req.VirtualModel, ActualModel: ep.UpstreamModelID, ProviderName: p.Name, Success: false, Error: &msg, LatencyMs: latencyMs})
		}
		lastErrs = append(lastErrs, fmt.Sprintf("%s (%s): %s", p.Name, ep.UpstreamModelID, msg))
		if d.log != nil {
			d.log.Warn("stream attempt failed before first byte", zap.String("provider", p.Name), zap.Error(attemptErr))
		}
	}

	return apperr.New(apperr.TypeUpstream, "all candidates failed: "+strings.Join(lastErrs, "; "), apperr.ErrAllCandidatesFailed)
}

// attemptStream issues one streaming upstream call. firstByteCtx bounds
// only the wait for the first upstream event; once received, the
// caller's ctx (unbounded by the pool timeout, bounded only by client
// disconnect) governs the rest of the stream.
func (d *Dispatcher) attemptStream(firstByteCtx, clientCtx context.Context, req ClientRequest, p pool.Provider, ep pool.Endpoint, w StreamWriter) (sentAny bool, inputTokens, outputTokens int, err error) {
	body, path, err := d.buildUpstreamRequest(req, p, ep)
	if err != nil {
		return false, 0, 0, err
	}

	// reqCtx carries the upstream call: it ends with clientCtx, or when
	// firstByteCtx expires before the first event has been read, so the
	// pool timeout also covers the wait for the response headers.
	reqCtx, cancelReq := context.WithCancel(clientCtx)
	defer cancelReq()
	stopFirstByte := context.AfterFunc(firstByteCtx, cancelReq)
	defer stopFirstByte()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(p.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return false, 0, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	setAuthHeader(httpReq, p)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return false, 0, 0, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, 0, 0, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	scanner := newLineScanner(resp.Body)

	var openaiOut *translator.OpenAIToAnthropicStream
	var anthropicOut *translator.AnthropicToOpenAIStream
	upstreamFormat, clientFormat := p.Format, req.ClientFormat
	translating := upstreamFormat != formatOf(clientFormat)
	if translating {
		if upstreamFormat == pool.FormatOpenAI {
			openaiOut = translator.NewOpenAIToAnthropicStream(req.VirtualModel)
		} else {
			anthropicOut = translator.NewAnthropicToOpenAIStream(req.VirtualModel)
		}
	}

	headersSent := false
	processLine := func(line string) error {
		if !strings.HasPrefix(line, "data:") {
			return nil
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			return nil
		}
		if !headersSent {
			writeSSEHeaders(w)
			headersSent = true
		}
		if data == "[DONE]" {
			fmt.Fprint(w, "data: [DONE]\n\n")
			w.Flush()
			sentAny = true
			return nil
		}
		in, out, werr := forwardChunk(w, data, upstreamFormat, clientFormat, openaiOut, anthropicOut, &sentAny)
		if in > 0 {
			inputTokens = in
		}
		if out > 0 {
			outputTokens = out
		}
		return werr
	}

	// The first scan is raced against firstByteCtx so the pool timeout
	// only governs time-to-first-event; once it fires the rest of the
	// stream is bounded solely by clientCtx (client disconnect).
	type scanResult struct {
		ok   bool
		line string
	}
	firstScan := make(chan scanResult, 1)
	go func() {
		ok := scanner.Scan()
		firstScan <- scanResult{ok: ok, line: scanner.Text()}
	}()

	select {
	case <-firstByteCtx.Done():
		return false, 0, 0, firstByteCtx.Err()
	case res := <-firstScan:
		stopFirstByte()
		if !res.ok {
			if err := scanner.Err(); err != nil {
				return false, 0, 0, err
			}
			return false, 0, 0, nil
		}
		if err := processLine(res.line); err != nil {
			return sentAny, inputTokens, outputTokens, err
		}
	}

	for scanner.Scan() {
		if err := processLine(scanner.Text()); err != nil {
			return sentAny, inputTokens, outputTokens, err
		}
	}
	if err := scanner.Err(); err != nil {
		return sentAny, inputTokens, outputTokens, err
	}
	return sentAny, inputTokens, outputTokens, nil
}

func formatOf(f translator.Format) pool.WireFormat {
	if f == translator.Anthropic {
		return pool.FormatAnthropic
	}
	return pool.FormatOpenAI
}

func writeSSEHeaders(w StreamWriter) {
	if rw, ok := w.(http.ResponseWriter); ok {
		rw.Header().Set("Content-Type", "text/event-stream")
		rw.Header().Set("Cache-Control", "no-cache")
		rw.Header().Set("Connection", "keep-alive")
	}
}

// forwardChunk decodes one upstream SSE data payload and writes zero
// or more translated SSE events to w. Token counts are reported when
// present in the chunk (final OpenAI chunk usage, or Anthropic
// message_delta usage).
func forwardChunk(w StreamWriter, data string, upstreamFormat pool.WireFormat, clientFormat translator.Format,
	openaiOut *translator.OpenAIToAnthropicStream, anthropicOut *translator.AnthropicToOpenAIStream, sentAny *bool) (inputTokens, outputTokens int, err error) {

	switch upstreamFormat {
	case pool.FormatOpenAI:
		var chunk translator.OpenAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return 0, 0, nil
		}
		if chunk.Usage != nil {
			inputTokens, outputTokens = chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens
		}
		if openaiOut != nil {
			for _, ev := range openaiOut.Convert(chunk) {
				if err := writeJSONEvent(w, ev); err != nil {
					return inputTokens, outputTokens, err
				}
				*sentAny = true
			}
			return inputTokens, outputTokens, nil
		}
		if err := writeJSONEvent(w, chunk); err != nil {
			return inputTokens, outputTokens, err
		}
		*sentAny = true
		return inputTokens, outputTokens, nil

	case pool.FormatAnthropic:
		var event translator.AnthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return 0, 0, nil
		}
		if event.Usage != nil {
			inputTokens, outputTokens = event.Usage.InputTokens, event.Usage.OutputTokens
		}
		if anthropicOut != nil {
			chunks, done := anthropicOut.Convert(event)
			for _, c := range chunks {
				if err := writeJSONEvent(w, c); err != nil {
					return inputTokens, outputTokens, err
				}
				*sentAny = true
			}
			if done {
				fmt.Fprint(w, "data: [DONE]\n\n")
				w.Flush()
				*sentAny = true
			}
			return inputTokens, outputTokens, nil
		}
		if err := writeJSONEvent(w, event); err != nil {
			return inputTokens, outputTokens, err
		}
		*sentAny = true
		return inputTokens, outputTokens, nil
	}
	return 0, 0, nil
}

func writeJSONEvent(w StreamWriter, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	w.Flush()
	return nil
}
