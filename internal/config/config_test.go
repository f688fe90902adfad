package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error { m.strs[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *memBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Ollama.LLMModel != "qwen2.5:7b" {
		t.Errorf("Ollama.LLMModel = %q, want %q", cfg.Ollama.LLMModel, "qwen2.5:7b")
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q, want %q", cfg.Ollama.EmbedModel, "nomic-embed-text")
	}
	if cfg.Extraction.MinLength != 20 {
		t.Errorf("Extraction.MinLength = %d, want 20", cfg.Extraction.MinLength)
	}
	if cfg.Extraction.ConfidenceThreshold != 0.5 {
		t.Errorf("Extraction.ConfidenceThreshold = %v, want 0.5", cfg.Extraction.ConfidenceThreshold)
	}
	if cfg.Extraction.ParagraphsPerPage != 50 {
		t.Errorf("Extraction.ParagraphsPerPage = %d, want 50", cfg.Extraction.ParagraphsPerPage)
	}
	if cfg.Extraction.PatternFallback {
		t.Error("Extraction.PatternFallback should default to false")
	}
	if cfg.GenerateTimeout() != 5*time.Minute {
		t.Errorf("GenerateTimeout() = %v, want 5m", cfg.GenerateTimeout())
	}
	if cfg.Retrieval.Rerank {
		t.Error("Retrieval.Rerank should default to false")
	}
	if cfg.RerankTimeoutDuration() != 30*time.Second {
		t.Errorf("RerankTimeoutDuration() = %v, want 30s", cfg.RerankTimeoutDuration())
	}
	if cfg.Retrieval.MaxContextTokens != 4000 {
		t.Errorf("Retrieval.MaxContextTokens = %d, want 4000", cfg.Retrieval.MaxContextTokens)
	}
}

// TestBackendValues verifies that values stored in the backend are applied with their types.
func TestBackendValues(t *testing.T) {
	b := newMemBackend()
	b.ints["server.port"] = 5000
	b.strs["ollama.llm_model"] = "llama3"
	b.strs["ollama.temperature"] = "0.7"
	b.strs["extraction.pattern_fallback"] = "true"
	b.strs["storage.data_dir"] = "/tmp/pagegeneral-test"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.LLMModel != "llama3" {
		t.Errorf("Ollama.LLMModel = %q", cfg.Ollama.LLMModel)
	}
	if cfg.Ollama.Temperature != 0.7 {
		t.Errorf("Ollama.Temperature = %v", cfg.Ollama.Temperature)
	}
	if !cfg.Extraction.PatternFallback {
		t.Error("Extraction.PatternFallback = false, want true")
	}
	if got := cfg.RegistryPath(); got != filepath.Join("/tmp/pagegeneral-test", "registry.json") {
		t.Errorf("RegistryPath() = %q", got)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	b := newMemBackend()
	b.strs["ollama.base_url"] = "http://file:11434"

	t.Setenv("PAGEGENERAL_OLLAMA_BASE_URL", "http://env:11434")
	t.Setenv("PAGEGENERAL_EXTRACTION_MIN_LENGTH", "42")
	t.Setenv("PAGEGENERAL_RETRIEVAL_TOP_K", "not-a-number")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ollama.BaseURL != "http://env:11434" {
		t.Errorf("Ollama.BaseURL = %q, want env value", cfg.Ollama.BaseURL)
	}
	if cfg.Extraction.MinLength != 42 {
		t.Errorf("Extraction.MinLength = %d, want 42", cfg.Extraction.MinLength)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK = %d, want default 5 on parse failure", cfg.Retrieval.TopK)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagegeneral", "config.json")

	b := newFileBackend(path)
	if err := setKey(b, "server.port", "4242"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "extraction.confidence_threshold", "0.8"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4242 {
		t.Errorf("Server.Port = %d, want 4242", cfg.Server.Port)
	}
	if cfg.Extraction.ConfidenceThreshold != 0.8 {
		t.Errorf("ConfidenceThreshold = %v, want 0.8", cfg.Extraction.ConfidenceThreshold)
	}
}

func TestSetKeyRejectsBadValues(t *testing.T) {
	b := newMemBackend()
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "extraction.pattern_fallback", "maybe"); err == nil {
		t.Error("expected error for non-bool value")
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestDivisionList(t *testing.T) {
	cfg := defaults()
	cfg.Extraction.Divisions = " 5, ,9 ,Gallipoli Group,"
	got := cfg.DivisionList()
	want := []string{"5", "9", "Gallipoli Group"}
	if len(got) != len(want) {
		t.Fatalf("DivisionList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DivisionList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadDivisionCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "divisions.yaml")
	content := "divisions:\n  - \"4\"\n  - \" 9 \"\n  - \"\"\npatterns:\n  - '(?i)dördüncü\\s+tümen'\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	cfg.Extraction.DivisionsFile = path
	cat, err := cfg.Catalog()
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if len(cat.Divisions) != 2 || cat.Divisions[1] != "9" {
		t.Errorf("Divisions = %v, want [4 9]", cat.Divisions)
	}
	if len(cat.Patterns) != 1 {
		t.Errorf("Patterns = %v, want one entry", cat.Patterns)
	}
}

func TestLoadDivisionCatalogEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "divisions.yaml")
	if err := os.WriteFile(path, []byte("divisions: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDivisionCatalog(path); err == nil {
		t.Error("expected error for catalog without divisions")
	}
}
