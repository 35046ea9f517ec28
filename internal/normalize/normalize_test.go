package normalize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNormalizeOpenAICompatible(t *testing.T) {
	for _, provider := range []string{ProviderOpenAI, ProviderOpenRouter} {
		t.Run(provider, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/chat/completions" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer secret" {
					t.Errorf("unexpected auth header %q", got)
				}
				if provider == ProviderOpenRouter && r.Header.Get("X-Title") == "" {
					t.Error("expected openrouter attribution header")
				}

				var req chatRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
				}
				if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "that queen song about mama" {
					t.Errorf("unexpected messages: %+v", req.Messages)
				}
				if req.MaxTokens != maxTokens {
					t.Errorf("unexpected max tokens %d", req.MaxTokens)
				}

				_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  \"Bohemian Rhapsody - Queen\"\n"}}]}`))
			}))
			defer srv.Close()

			n := New(Config{Provider: provider, APIKey: "secret", BaseURL: srv.URL}, zerolog.Nop())
			got := n.Normalize(context.Background(), "that queen song about mama")
			if got != "Bohemian Rhapsody - Queen" {
				t.Fatalf("unexpected normalization %q", got)
			}
		})
	}
}

func TestNormalizeGemini(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-1.5-flash:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "gem" {
			t.Errorf("expected api key in query, got %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Take Five - Dave Brubeck"}]}}]}`))
	}))
	defer srv.Close()

	n := New(Config{Provider: ProviderGemini, APIKey: "gem", BaseURL: srv.URL}, zerolog.Nop())
	if got := n.Normalize(context.Background(), "take five"); got != "Take Five - Dave Brubeck" {
		t.Fatalf("unexpected normalization %q", got)
	}
}

func TestNormalizeFallsBackToInput(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		timeout time.Duration
		delay   time.Duration
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{}`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "blank content", status: http.StatusOK, body: `{"choices":[{"message":{"content":"   "}}]}`},
		{name: "garbage", status: http.StatusOK, body: `not json`},
		{name: "timeout", status: http.StatusOK, body: `{}`, timeout: 50 * time.Millisecond, delay: 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(tt.delay)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			n := New(Config{Provider: ProviderOpenAI, APIKey: "k", BaseURL: srv.URL, Timeout: tt.timeout}, zerolog.Nop())
			if got := n.Normalize(context.Background(), "  raw request "); got != "raw request" {
				t.Fatalf("expected trimmed input back, got %q", got)
			}
		})
	}
}

func TestNormalizeUnconfiguredMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	for _, cfg := range []Config{
		{Provider: ProviderOpenAI, BaseURL: srv.URL},
		{Provider: "clippy", APIKey: "k", BaseURL: srv.URL},
	} {
		n := New(cfg, zerolog.Nop())
		if n.Configured() {
			t.Fatalf("expected %+v to be unconfigured", cfg)
		}
		if got := n.Normalize(context.Background(), "hello"); got != "hello" {
			t.Fatalf("expected passthrough, got %q", got)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no upstream calls, got %d", hits.Load())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := New(Config{
		Provider:         ProviderOpenAI,
		APIKey:           "k",
		BaseURL:          srv.URL,
		FailureThreshold: 2,
		CooldownPeriod:   time.Hour,
	}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		if got := n.Normalize(context.Background(), "q"); got != "q" {
			t.Fatalf("expected passthrough, got %q", got)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, got %d", hits.Load())
	}
}
