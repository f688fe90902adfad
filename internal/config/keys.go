package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PAGEGENERAL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "PAGEGENERAL_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.llm_model", typ: kString, env: "PAGEGENERAL_OLLAMA_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.LLMModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.LLMModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "PAGEGENERAL_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.temperature", typ: kFloat, env: "PAGEGENERAL_OLLAMA_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ollama.Temperature },
	},
	{
		key: "ollama.max_tokens", typ: kInt, env: "PAGEGENERAL_OLLAMA_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Ollama.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.MaxTokens },
	},
	{
		key: "ollama.timeout", typ: kString, env: "PAGEGENERAL_OLLAMA_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAGEGENERAL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.registry_file", typ: kString, env: "PAGEGENERAL_STORAGE_REGISTRY_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.RegistryFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RegistryFile },
	},
	{
		key: "extraction.divisions", typ: kString, env: "PAGEGENERAL_EXTRACTION_DIVISIONS",
		apply:   func(cfg *Config, v any) { cfg.Extraction.Divisions = v.(string) },
		extract: func(cfg Config) any { return cfg.Extraction.Divisions },
	},
	{
		key: "extraction.divisions_file", typ: kString, env: "PAGEGENERAL_EXTRACTION_DIVISIONS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Extraction.DivisionsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Extraction.DivisionsFile },
	},
	{
		key: "extraction.min_length", typ: kInt, env: "PAGEGENERAL_EXTRACTION_MIN_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Extraction.MinLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Extraction.MinLength },
	},
	{
		key: "extraction.confidence_threshold", typ: kFloat, env: "PAGEGENERAL_EXTRACTION_CONFIDENCE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Extraction.ConfidenceThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Extraction.ConfidenceThreshold },
	},
	{
		key: "extraction.paragraphs_per_page", typ: kInt, env: "PAGEGENERAL_EXTRACTION_PARAGRAPHS_PER_PAGE",
		apply:   func(cfg *Config, v any) { cfg.Extraction.ParagraphsPerPage = v.(int) },
		extract: func(cfg Config) any { return cfg.Extraction.ParagraphsPerPage },
	},
	{
		key: "extraction.pattern_fallback", typ: kBool, env: "PAGEGENERAL_EXTRACTION_PATTERN_FALLBACK",
		apply:   func(cfg *Config, v any) { cfg.Extraction.PatternFallback = v.(bool) },
		extract: func(cfg Config) any { return cfg.Extraction.PatternFallback },
	},
	{
		key: "embedding.batch_size", typ: kInt, env: "PAGEGENERAL_EMBEDDING_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.BatchSize },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "PAGEGENERAL_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.rerank", typ: kBool, env: "PAGEGENERAL_RETRIEVAL_RERANK",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Rerank = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.Rerank },
	},
	{
		key: "retrieval.rerank_threshold", typ: kFloat, env: "PAGEGENERAL_RETRIEVAL_RERANK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankThreshold },
	},
	{
		key: "retrieval.rerank_timeout", typ: kString, env: "PAGEGENERAL_RETRIEVAL_RERANK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankTimeout },
	},
	{
		key: "retrieval.max_context_tokens", typ: kInt, env: "PAGEGENERAL_RETRIEVAL_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxContextTokens },
	},
	{
		key: "output.dir", typ: kString, env: "PAGEGENERAL_OUTPUT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Output.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.Dir },
	},
	{
		key: "log.level", typ: kString, env: "PAGEGENERAL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
