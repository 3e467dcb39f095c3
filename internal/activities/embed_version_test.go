package activities

import "testing"

func TestEmbedVersionForPrimaryProviderKeepsConfiguredVersion(t *testing.T) {
	got := embedVersionFor("minilm-v1", 0, "openai", "text-embedding-3-small")
	if got != "minilm-v1" {
		t.Fatalf("primary provider should keep configured version, got %q", got)
	}
}

func TestEmbedVersionForFallbackProviderDerivesDistinctVersion(t *testing.T) {
	got := embedVersionFor("minilm-v1", 1, "mock", "mock-embed-384")
	if got == "minilm-v1" {
		t.Fatal("fallback provider must not reuse the configured version")
	}
	if got != "mock/mock-embed-384" {
		t.Fatalf("unexpected fallback version %q", got)
	}
}

func TestEmbedVersionForFallbackWithoutModelUsesProviderName(t *testing.T) {
	if got := embedVersionFor("minilm-v1", 2, "ollama", ""); got != "ollama" {
		t.Fatalf("unexpected fallback version %q", got)
	}
}
