// Package engine is the boundary to the local Ollama server. Every model call
// in the tool goes through Engine: the division classifier uses Generate,
// paragraph and question vectors come from Embed, and answers to questions
// and rerank scores come from Chat.
package engine

import "context"

// Engine is the model server as ingestion and querying see it.
type Engine interface {
	// Generate completes a single prompt and returns the raw model text. The
	// classifier sends one prompt per candidate paragraph.
	Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (string, error)

	// Chat answers a system and user message pair.
	Chat(ctx context.Context, model string, messages []Message, opts GenerateOptions) (string, error)

	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)

	IsRunning(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. onProgress may be nil.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
