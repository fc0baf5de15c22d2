// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/backchat/internal/config"
	"github.com/jeranaias/backchat/internal/diag"
	"github.com/jeranaias/backchat/internal/discovery"
	"github.com/jeranaias/backchat/internal/model"
	"github.com/jeranaias/backchat/internal/router"
)

// =============================================================================
// REQUESTS
// =============================================================================

// ChatTurn is one transcript entry on the wire.
type ChatTurn struct {
	Role    string
	Content string
}

// ChatRequest describes one chat dispatch.
type ChatRequest struct {
	SessionID    string
	TurnID       string
	ModelID      string
	SystemPrompt string
	// ContainerID is the session's sandbox handle from an earlier turn,
	// forwarded so the provider reuses it.
	ContainerID string
	Turns       []ChatTurn
}

// Emitter receives routable events as they are decoded.
type Emitter func(ev router.Event)

// =============================================================================
// CLIENT
// =============================================================================

const (
	anthropicVersion = "2023-06-01"
	maxTokens        = 8192
)

// Client dispatches streaming requests to all three providers.
type Client struct {
	cfg  config.ProviderConfig
	http *http.Client
	diag *diag.Logger
	log  *zap.Logger

	limMu    sync.Mutex
	limiters map[Name]*rate.Limiter

	// The single cancellable chat stream. Cancel always targets the most
	// recently dispatched chat; background streams run to completion. The
	// generation guards against a finished stream clearing a newer one's
	// registration.
	activeMu     sync.Mutex
	activeCancel context.CancelFunc
	activeGen    uint64
}

// NewClient creates a client. Streaming responses have no overall timeout;
// lifetime is controlled by context.
func NewClient(cfg config.ProviderConfig, logger *diag.Logger) *Client {
	if logger == nil {
		logger = diag.Nop()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        8,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		diag:     logger,
		log:      logger.For(diag.CategoryProvider),
		limiters: make(map[Name]*rate.Limiter),
	}
}

// limiter returns the per-provider dispatch limiter.
func (c *Client) limiter(p Name) *rate.Limiter {
	c.limMu.Lock()
	defer c.limMu.Unlock()
	lim, ok := c.limiters[p]
	if !ok {
		rpm := c.cfg.RequestsPerMinute
		if rpm <= 0 {
			rpm = 30
		}
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
		c.limiters[p] = lim
	}
	return lim
}

// =============================================================================
// CHAT STREAMING
// =============================================================================

// StreamChat runs one chat dispatch to completion, emitting deltas as they
// decode and exactly one terminal event at the end. Intended to run on its
// own goroutine.
func (c *Client) StreamChat(req ChatRequest, emit Emitter) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := c.setActive(cancel)
	defer c.clearActive(gen)
	defer cancel()

	err := c.streamChat(ctx, req, emit)
	switch {
	case err == nil:
		emit(router.ChatDone{SessionID: req.SessionID, TurnID: req.TurnID})
	case errors.Is(err, context.Canceled):
		emit(router.ChatCancelled{SessionID: req.SessionID, TurnID: req.TurnID})
	default:
		c.log.Warn("chat dispatch failed",
			zap.String("turn_id", req.TurnID),
			zap.String("model", req.ModelID),
			zap.Error(err))
		emit(router.ChatError{
			SessionID:   req.SessionID,
			TurnID:      req.TurnID,
			Explanation: Explain(req.ModelID, err),
		})
	}
}

// CancelActive cancels the most recently dispatched chat stream, if any.
func (c *Client) CancelActive() {
	c.activeMu.Lock()
	cancel := c.activeCancel
	c.activeCancel = nil
	c.activeMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) setActive(cancel context.CancelFunc) uint64 {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	c.activeGen++
	c.activeCancel = cancel
	return c.activeGen
}

func (c *Client) clearActive(gen uint64) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	if c.activeGen == gen {
		c.activeCancel = nil
	}
}

func (c *Client) streamChat(ctx context.Context, req ChatRequest, emit Emitter) error {
	prov := ProviderFor(req.ModelID)
	if err := c.limiter(prov).Wait(ctx); err != nil {
		return err
	}

	httpReq, err := c.buildRequest(ctx, prov, req.ModelID, req.SystemPrompt, req.ContainerID, req.Turns)
	if err != nil {
		return err
	}

	c.diag.LogDispatch("chat", string(prov), req.ModelID, req.TurnID)

	sink := &chatSink{sessionID: req.SessionID, turnID: req.TurnID, emit: emit}
	return c.stream(ctx, prov, httpReq, sink)
}

// chatSink adapts decoded deltas onto router events.
type chatSink struct {
	sessionID string
	turnID    string
	emit      Emitter
}

func (s *chatSink) Text(t string) {
	s.emit(router.ChatTextDelta{SessionID: s.sessionID, TurnID: s.turnID, Text: t})
}

func (s *chatSink) Thinking(t string) {
	s.emit(router.ChatThinkingDelta{SessionID: s.sessionID, TurnID: s.turnID, Text: t})
}

func (s *chatSink) ThinkingDone() {
	s.emit(router.ChatThinkingDone{SessionID: s.sessionID, TurnID: s.turnID})
}

func (s *chatSink) ExecStarted(tool, code string) {
	s.emit(router.ChatExecutionStarted{SessionID: s.sessionID, TurnID: s.turnID, ToolName: tool, Code: code})
}

func (s *chatSink) ExecOutput(stdout, stderr string) {
	s.emit(router.ChatExecutionOutput{SessionID: s.sessionID, TurnID: s.turnID, Stdout: stdout, Stderr: stderr})
}

func (s *chatSink) ExecDone(failed bool, errText string, files []string) {
	s.emit(router.ChatExecutionDone{SessionID: s.sessionID, TurnID: s.turnID, Failed: failed, Error: errText, Files: files})
}

func (s *chatSink) Citation(c model.Citation) {
	s.emit(router.ChatCitation{SessionID: s.sessionID, TurnID: s.turnID, Citation: c})
}

func (s *chatSink) InlineCitation(c model.InlineCitation) {
	s.emit(router.ChatInlineCitation{SessionID: s.sessionID, TurnID: s.turnID, Citation: c})
}

func (s *chatSink) ContainerID(id string) {
	s.emit(router.ChatContainerID{SessionID: s.sessionID, TurnID: s.turnID, ContainerID: id})
}

// =============================================================================
// DISCOVERY STREAMING
// =============================================================================

// DispatchDiscovery streams a discovery analysis, delivering raw text
// chunks in order. Implements the trigger's dispatcher contract.
func (c *Client) DispatchDiscovery(ctx context.Context, req discovery.Request, onChunk func(text string)) error {
	prov := ProviderFor(req.ModelID)
	if err := c.limiter(prov).Wait(ctx); err != nil {
		return err
	}

	turns := []ChatTurn{{Role: "user", Content: req.Transcript}}
	httpReq, err := c.buildRequest(ctx, prov, req.ModelID, req.SystemPrompt, "", turns)
	if err != nil {
		return err
	}

	c.diag.LogDispatch("discovery", string(prov), req.ModelID, req.TurnID)

	return c.stream(ctx, prov, httpReq, textOnlySink{onText: onChunk})
}

// =============================================================================
// TRANSPORT
// =============================================================================

// stream executes the request and decodes its SSE body into the sink.
func (c *Client) stream(ctx context.Context, prov Name, req *http.Request, sink deltaSink) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Provider: prov, Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	dec := decoderFor(prov)
	reader := newSSEReader(resp.Body)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		eventType, data, err := reader.readEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read failed: %w", err)
		}
		if dec.decode(eventType, data, sink) {
			return nil
		}
	}
}

// buildRequest assembles the provider-specific HTTP request.
func (c *Client) buildRequest(ctx context.Context, prov Name, modelID, system, containerID string, turns []ChatTurn) (*http.Request, error) {
	switch prov {
	case OpenAI:
		return c.buildOpenAI(ctx, modelID, system, turns)
	case Google:
		return c.buildGemini(ctx, modelID, system, turns)
	default:
		return c.buildAnthropic(ctx, modelID, system, containerID, turns)
	}
}

func (c *Client) buildAnthropic(ctx context.Context, modelID, system, containerID string, turns []ChatTurn) (*http.Request, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, ErrNotConfigured
	}

	type wireMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	body := map[string]any{
		"model":      modelID,
		"max_tokens": maxTokens,
		"stream":     true,
	}
	if system != "" {
		body["system"] = system
	}
	if containerID != "" {
		body["container"] = containerID
	}
	msgs := make([]wireMsg, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, wireMsg{Role: t.Role, Content: t.Content})
	}
	body["messages"] = msgs

	req, err := c.newJSONRequest(ctx, c.cfg.AnthropicBaseURL+"/v1/messages", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (c *Client) buildOpenAI(ctx context.Context, modelID, system string, turns []ChatTurn) (*http.Request, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, ErrNotConfigured
	}

	type wireMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	msgs := make([]wireMsg, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, wireMsg{Role: "system", Content: system})
	}
	for _, t := range turns {
		msgs = append(msgs, wireMsg{Role: t.Role, Content: t.Content})
	}
	body := map[string]any{
		"model":    modelID,
		"stream":   true,
		"messages": msgs,
	}

	req, err := c.newJSONRequest(ctx, c.cfg.OpenAIBaseURL+"/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	return req, nil
}

func (c *Client) buildGemini(ctx context.Context, modelID, system string, turns []ChatTurn) (*http.Request, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, ErrNotConfigured
	}

	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	contents := make([]content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: t.Content}}})
	}
	body := map[string]any{
		"contents": contents,
	}
	if system != "" {
		body["systemInstruction"] = content{Parts: []part{{Text: system}}}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.cfg.GeminiBaseURL, modelID)
	req, err := c.newJSONRequest(ctx, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", key)
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, url string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	return req, nil
}
