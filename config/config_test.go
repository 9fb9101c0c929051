package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Vector.IndexName != "research-assistant" {
		t.Fatalf("unexpected index name: %q", cfg.Vector.IndexName)
	}
	if cfg.Embeddings.Dimension != 1024 {
		t.Fatalf("unexpected dimension: %d", cfg.Embeddings.Dimension)
	}
	if cfg.Scraper.MaxAttempts != 3 || cfg.Scraper.InitialDelay != 2*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Scraper)
	}
	if cfg.Session.MaxIdle != 2*time.Hour || cfg.Session.MaxSessions != 10 {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.LLM.MaxNewTokens != 150 || cfg.LLM.Temperature != 0.3 || cfg.LLM.TopP != 0.95 {
		t.Fatalf("unexpected sampling defaults: %+v", cfg.LLM)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAPERAGENT_VECTOR_TOP_K", "4")
	t.Setenv("PAPERAGENT_SESSION_STORE", SessionRedis)
	t.Setenv("HUGGINGFACE_API_KEY", "hf-legacy")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Vector.TopK != 4 {
		t.Fatalf("expected top_k 4, got %d", cfg.Vector.TopK)
	}
	if cfg.Session.Store != SessionRedis {
		t.Fatalf("expected redis store, got %q", cfg.Session.Store)
	}
	if cfg.HuggingFaceAPIKey != "hf-legacy" {
		t.Fatalf("expected legacy key alias, got %q", cfg.HuggingFaceAPIKey)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := "vector:\n  backend: pgvector\nsession:\n  max_sessions: 3\n  max_idle: 30m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Vector.Backend != BackendPgvector {
		t.Fatalf("unexpected backend: %q", cfg.Vector.Backend)
	}
	if cfg.Session.MaxSessions != 3 || cfg.Session.MaxIdle != 30*time.Minute {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Vector.Backend = "faiss"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown vector backend")
	}
}
