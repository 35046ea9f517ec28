/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package normalize cleans free-text song requests ("that queen song about
// mama") into "Title - Artist" using an LLM. Every failure falls back to the
// caller's text unchanged.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/friendsincode/jukebox/internal/telemetry"
)

// Providers.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	geminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta"

	maxTokens = 50
	userAgent = "jukebox/1.0"
)

const systemPrompt = "You are a music assistant. Extract the likely Song Title and Artist from the user input. " +
	"Return ONLY the format: 'Title - Artist'. If unsure, return the original text."

var (
	// ErrUnconfigured is returned when the provider has no API key.
	ErrUnconfigured = errors.New("normalizer not configured")
	// ErrEmptyResponse is returned when the model answers with nothing usable.
	ErrEmptyResponse = errors.New("empty completion")
)

// Config selects and authenticates the provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string

	// BaseURL overrides the provider endpoint root.
	BaseURL string
	Timeout time.Duration

	// FailureThreshold consecutive failures open the breaker for CooldownPeriod.
	FailureThreshold uint32
	CooldownPeriod   time.Duration
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
	logger     zerolog.Logger
}

// New builds a normalizer. Unknown providers behave like a missing key.
func New(cfg Config, logger zerolog.Logger) *Normalizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = 30 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel(cfg.Provider)
	}

	n := &Normalizer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "normalize").Str("provider", cfg.Provider).Logger(),
	}
	n.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "normalizer",
		MaxRequests: 1,
		Timeout:     cfg.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			n.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("normalizer breaker state changed")
		},
	})
	return n
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-1.5-flash"
	case ProviderOpenRouter:
		return "openai/gpt-4o-mini"
	default:
		return "gpt-4o"
	}
}

// Normalize returns the cleaned query, or text itself on any failure.
func (n *Normalizer) Normalize(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" || !n.Configured() {
		return text
	}

	out, err := n.breaker.Execute(func() (string, error) {
		return n.complete(ctx, text)
	})
	if err != nil {
		n.logger.Warn().Err(err).Msg("normalization failed, using raw query")
		telemetry.UpstreamErrorsTotal.WithLabelValues("normalizer").Inc()
		return text
	}

	n.logger.Debug().Str("input", text).Str("output", out).Msg("query normalized")
	return out
}

// Configured reports whether a known provider has an API key.
func (n *Normalizer) Configured() bool {
	switch n.cfg.Provider {
	case ProviderOpenAI, ProviderOpenRouter, ProviderGemini:
		return n.cfg.APIKey != ""
	default:
		return false
	}
}

func (n *Normalizer) complete(ctx context.Context, text string) (string, error) {
	var (
		out string
		err error
	)
	switch n.cfg.Provider {
	case ProviderOpenAI, ProviderOpenRouter:
		out, err = n.chatCompletion(ctx, text)
	case ProviderGemini:
		out, err = n.generateContent(ctx, text)
	default:
		return "", ErrUnconfigured
	}
	if err != nil {
		return "", err
	}

	out = strings.Trim(strings.TrimSpace(out), "\"'`")
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (n *Normalizer) chatCompletion(ctx context.Context, text string) (string, error) {
	base := n.cfg.BaseURL
	if base == "" {
		base = openAIBaseURL
		if n.cfg.Provider == ProviderOpenRouter {
			base = openRouterBaseURL
		}
	}

	body, err := json.Marshal(chatRequest{
		Model: n.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.cfg.APIKey)
	if n.cfg.Provider == ProviderOpenRouter {
		req.Header.Set("HTTP-Referer", "https://github.com/friendsincode/jukebox")
		req.Header.Set("X-Title", "Jukebox")
	}

	var resp chatResponse
	if err := n.do(req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (n *Normalizer) generateContent(ctx context.Context, text string) (string, error) {
	base := n.cfg.BaseURL
	if base == "" {
		base = geminiBaseURL
	}

	payload := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: text}}}},
	}
	payload.GenerationConfig.MaxOutputTokens = maxTokens

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(base, "/"), url.PathEscape(n.cfg.Model), url.QueryEscape(n.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}

	var resp geminiResponse
	if err := n.do(req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (n *Normalizer) do(req *http.Request, into any) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decode llm response: %w", err)
	}
	return nil
}
