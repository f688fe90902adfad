package config

import (
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Ollama     OllamaConfig
	Storage    StorageConfig
	Extraction ExtractionConfig
	Embedding  EmbeddingConfig
	Retrieval  RetrievalConfig
	Output     OutputConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL     string
	LLMModel    string
	EmbedModel  string
	Temperature float64
	MaxTokens   int
	// Timeout bounds a single generate call, as a Go duration string.
	Timeout string
}

type StorageConfig struct {
	DataDir string
	// RegistryFile is the book registry JSON path. Empty means
	// <DataDir>/registry.json.
	RegistryFile string
}

type ExtractionConfig struct {
	// Divisions is a comma-separated list of known division identifiers.
	Divisions           string
	DivisionsFile       string
	MinLength           int
	ConfidenceThreshold float64
	ParagraphsPerPage   int
	PatternFallback     bool
}

type EmbeddingConfig struct {
	BatchSize int
}

type RetrievalConfig struct {
	TopK             int
	Rerank           bool
	RerankThreshold  float64
	RerankTimeout    string
	MaxContextTokens int // passage budget for ask prompts
}

type OutputConfig struct {
	Dir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			LLMModel:    "qwen2.5:7b",
			EmbedModel:  "nomic-embed-text",
			Temperature: 0.1,
			MaxTokens:   500,
			Timeout:     "5m",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Extraction: ExtractionConfig{
			Divisions:           "4,5,7,9,23,24",
			MinLength:           20,
			ConfidenceThreshold: 0.5,
			ParagraphsPerPage:   50,
		},
		Embedding: EmbeddingConfig{
			BatchSize: 64,
		},
		Retrieval: RetrievalConfig{
			TopK:             5,
			RerankThreshold:  0.3,
			RerankTimeout:    "30s",
			MaxContextTokens: 4000,
		},
		Output: OutputConfig{
			Dir: "output",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/pagegeneral/config.json, then applies PAGEGENERAL_*
// environment variable overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// RegistryPath returns the effective registry file location.
func (c Config) RegistryPath() string {
	if c.Storage.RegistryFile != "" {
		return c.Storage.RegistryFile
	}
	return joinDataDir(c.Storage.DataDir, "registry.json")
}

// GenerateTimeout parses Ollama.Timeout, falling back to five minutes.
func (c Config) GenerateTimeout() time.Duration {
	d, err := time.ParseDuration(c.Ollama.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// RerankTimeoutDuration parses Retrieval.RerankTimeout, falling back to 30s.
func (c Config) RerankTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Retrieval.RerankTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// DivisionList splits Extraction.Divisions into trimmed, non-empty items.
func (c Config) DivisionList() []string {
	var out []string
	for _, p := range strings.Split(c.Extraction.Divisions, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
