package genai

import (
	"testing"
	"time"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, c.model)
	}
	if c.embeddingModel != DefaultEmbeddingModel {
		t.Errorf("expected default embedding model %q, got %q", DefaultEmbeddingModel, c.embeddingModel)
	}
	if c.timeout != DefaultRequestTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultRequestTimeout, c.timeout)
	}
}

func TestNewClientOptions(t *testing.T) {
	c, err := NewClient(
		WithAPIKey("test-key"),
		WithBaseURL("https://openrouter.ai/api/v1"),
		WithModel("custom-model"),
		WithEmbeddingModel("custom-embedding"),
		WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != "custom-model" {
		t.Errorf("model option not applied: %q", c.model)
	}
	if c.embeddingModel != "custom-embedding" {
		t.Errorf("embedding model option not applied: %q", c.embeddingModel)
	}
	if c.timeout != 5*time.Second {
		t.Errorf("timeout option not applied: %v", c.timeout)
	}
}
