package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kalambet/pagegeneral/internal/config"
	"github.com/kalambet/pagegeneral/internal/engine"
	"github.com/kalambet/pagegeneral/internal/extract"
	"github.com/kalambet/pagegeneral/internal/ingest"
	"github.com/kalambet/pagegeneral/internal/query"
	"github.com/kalambet/pagegeneral/internal/registry"
	"github.com/kalambet/pagegeneral/internal/reranking"
	"github.com/kalambet/pagegeneral/internal/retrieval"
	"github.com/kalambet/pagegeneral/internal/storage"
)

// app is the wired set of components every local command works with.
type app struct {
	cfg       config.Config
	store     *storage.Store
	books     *registry.Registry
	eng       engine.Engine
	retriever *retrieval.Retriever
	query     *query.Service
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	regPath := cfg.RegistryPath()
	if err := os.MkdirAll(filepath.Dir(regPath), 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}
	books, err := registry.Open(regPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening registry: %w", err)
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	a := &app{cfg: cfg, store: store, books: books, eng: eng}
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel, cfg.Embedding.BatchSize)
	a.retriever = retrieval.NewRetriever(embedder, retrieval.NewSQLiteStore(store.DB()))
	a.query = query.NewService(books, a.retriever, cfg.Output.Dir).
		WithLLM(eng, cfg.Ollama.LLMModel, a.generateOptions()).
		WithContextBudget(cfg.Retrieval.MaxContextTokens)
	if cfg.Retrieval.Rerank {
		a.query = a.query.WithReranker(reranking.NewReranker(
			eng, cfg.Ollama.LLMModel, true, cfg.RerankTimeoutDuration(), cfg.Retrieval.RerankThreshold, 0))
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) generateOptions() engine.GenerateOptions {
	return engine.GenerateOptions{
		Temperature: a.cfg.Ollama.Temperature,
		MaxTokens:   a.cfg.Ollama.MaxTokens,
	}
}

// ingestModels are the models ingestion must have available. With the
// pattern fallback enabled a missing LLM is tolerated, so it is not pulled.
func (a *app) ingestModels() engine.Models {
	m := engine.Models{Embedding: a.cfg.Ollama.EmbedModel}
	if !a.cfg.Extraction.PatternFallback {
		m.Classifier = a.cfg.Ollama.LLMModel
	}
	return m
}

func (a *app) newPipeline(progress ingest.Progress) (*ingest.Pipeline, error) {
	cat, err := a.cfg.Catalog()
	if err != nil {
		return nil, err
	}
	m, err := extract.NewMatcher(cat.Divisions, cat.Patterns, a.cfg.Extraction.MinLength)
	if err != nil {
		return nil, fmt.Errorf("building division matcher: %w", err)
	}
	llm := extract.NewLLMClassifier(a.eng, a.cfg.Ollama.LLMModel, m.Divisions(), a.generateOptions(), a.cfg.GenerateTimeout())

	opts := []ingest.Option{
		ingest.WithRunLog(a.store),
		ingest.WithThreshold(a.cfg.Extraction.ConfidenceThreshold),
		ingest.WithParagraphsPerPage(a.cfg.Extraction.ParagraphsPerPage),
	}
	if a.cfg.Extraction.PatternFallback {
		opts = append(opts, ingest.WithFallback(extract.NewPatternClassifier(m)))
	}
	if progress != nil {
		opts = append(opts, ingest.WithProgress(progress))
	}
	return ingest.NewPipeline(a.books, a.retriever, extract.NewExtractor(m, llm), opts...), nil
}
