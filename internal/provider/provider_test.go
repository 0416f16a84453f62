package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardly/dialograils/internal/config"
)

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "hello", req.Messages[0].Content)

		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:   "llama3",
			Message: ollamaChatMessage{Role: "assistant", Content: "hi!"},
			Done:    true,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL)
	out, err := p.Generate(context.Background(), "hello", Options{Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)
}

func TestOllamaGenerateUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL)
	_, err := p.Generate(context.Background(), "hello", Options{Model: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOllamaGenerateHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect
		// and cancels the request context.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewOllamaProvider(srv.URL)
	_, err := p.Generate(ctx, "hello", Options{Model: "llama3"})
	assert.Error(t, err)
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "bonjour"}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "test-key")
	out, err := p.Generate(context.Background(), "say hello in French", Options{Model: "test-model"})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", out)
}

func TestOpenAIGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "chatcmpl-1", "object": "chat.completion", "choices": []}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "test-key")
	_, err := p.Generate(context.Background(), "hello", Options{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

// flakyProvider fails until recovered is flipped.
type flakyProvider struct {
	recovered bool
	calls     int
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Generate(_ context.Context, _ string, _ Options) (string, error) {
	f.calls++
	if !f.recovered {
		return "", errors.New("boom")
	}
	return "ok", nil
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	inner := &flakyProvider{}
	p := WithCircuitBreaker(inner, CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})
	cb := p.(*CircuitBreaker)

	// Two failures trip the breaker.
	for i := 0; i < 2; i++ {
		_, err := p.Generate(context.Background(), "x", Options{})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// While open, calls are rejected without touching the provider.
	callsBefore := inner.calls
	_, err := p.Generate(context.Background(), "x", Options{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, callsBefore, inner.calls)

	// After the timeout the breaker half-opens and a success closes it.
	time.Sleep(20 * time.Millisecond)
	inner.recovered = true
	out, err := p.Generate(context.Background(), "x", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerDisabledPassesThrough(t *testing.T) {
	inner := &flakyProvider{recovered: true}
	p := WithCircuitBreaker(inner, CircuitBreakerConfig{Enabled: false})
	assert.Same(t, Provider(inner), p)
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.EngineConfig
		wantName string
	}{
		{"groq default", config.EngineConfig{Provider: "groq"}, "groq"},
		{"openai", config.EngineConfig{Provider: "openai"}, "openai"},
		{"ollama", config.EngineConfig{Provider: "ollama"}, "ollama"},
		{"custom compatible endpoint", config.EngineConfig{Provider: "vllm", BaseURL: "http://localhost:8000/v1"}, "vllm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FromConfig(tt.cfg)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}

	t.Run("breaker enabled wraps provider", func(t *testing.T) {
		p := FromConfig(config.EngineConfig{Provider: "groq", BreakerEnabled: true})
		_, ok := p.(*CircuitBreaker)
		assert.True(t, ok)
		assert.Equal(t, "groq", p.Name())
	})
}
