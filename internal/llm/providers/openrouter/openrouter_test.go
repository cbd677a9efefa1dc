package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Corphon/AIDungeonMaster/internal/llm"
)

func TestInitializeRequiresKey(t *testing.T) {
	t.Parallel()

	p := &Provider{}
	if err := p.Initialize(map[string]string{}); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestCompleteText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"model":"m","choices":[{"message":{"role":"assistant","content":"The torch gutters."},"finish_reason":"stop"}],"usage":{"total_tokens":7}}`))
	}))
	defer srv.Close()

	p := &Provider{}
	if err := p.Initialize(map[string]string{"api_key": "k", "base_url": srv.URL}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "describe", SystemPrompt: "narrator"})
	if err != nil {
		t.Fatalf("CompleteText() error = %v", err)
	}
	if resp.Text != "The torch gutters." || resp.TokensUsed != 7 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCompleteTextSurfacesHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := &Provider{}
	_ = p.Initialize(map[string]string{"api_key": "k", "base_url": srv.URL})
	if _, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error for 429")
	}
}
