package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fabfab/paper-agent/config"
)

func TestNewEmbedderDefaults(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOllama,
			Model:     "nomic-embed-text",
			Dimension: 3,
		},
		OllamaHost: "http://localhost:11434",
	}

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		t.Fatalf("expected embedder, got error: %v", err)
	}
	if embedder == nil {
		t.Fatal("expected non-nil embedder")
	}
}

func TestNewEmbedderMissingKeys(t *testing.T) {
	for _, provider := range []string{config.ProviderOpenAI, config.ProviderHuggingFace} {
		cfg := config.Config{Embeddings: config.EmbeddingConfig{Provider: provider, Model: "m", Dimension: 4}}
		if _, err := NewEmbedder(cfg); err == nil {
			t.Fatalf("expected error for missing %s key", provider)
		}
	}
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	if _, err := NewEmbedder(config.Config{Embeddings: config.EmbeddingConfig{Provider: "bogus"}}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestHuggingFaceEmbedderBatchesInOrder(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/pipeline/feature-extraction/BAAI/bge-small" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer hf_test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req huggingFaceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		out := make([][]float32, len(req.Inputs))
		for i, in := range req.Inputs {
			out[i] = []float32{float32(len(in)), 1}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	e := NewHuggingFaceEmbedder(Options{
		Model:              "BAAI/bge-small",
		Dimension:          2,
		HuggingFaceAPIKey:  "hf_test",
		HuggingFaceBaseURL: srv.URL,
		BatchSize:          2,
	})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requests.Load() != 3 {
		t.Fatalf("expected 3 batch requests, got %d", requests.Load())
	}
	for i, vec := range vectors {
		if int(vec[0]) != len(texts[i]) {
			t.Fatalf("vector %d out of order: %v", i, vec)
		}
	}
}

func TestHuggingFaceEmbedderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Model is loading"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHuggingFaceEmbedder(Options{Model: "m", HuggingFaceAPIKey: "k", HuggingFaceBaseURL: srv.URL})
	_, err := e.Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestOllamaEmbedderDimensionCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{0.1, 0.2}})
	}))
	defer srv.Close()

	good := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Model: "nomic", Dimension: 2})
	vectors, err := good.Embed(context.Background(), []string{"one", "two", "three"})
	if err != nil || len(vectors) != 3 {
		t.Fatalf("unexpected result %v, %v", vectors, err)
	}

	bad := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Model: "nomic", Dimension: 3})
	if _, err := bad.Embed(context.Background(), []string{"one"}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
