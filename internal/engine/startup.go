package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned by EnsureReady when the backend cannot be reached.
var ErrNotRunning = errors.New("ollama is not running; start it with: ollama serve")

// EnsureReady checks that the server is reachable and pulls any of models
// that are missing, writing progress to w. Acquisition happens here, once,
// rather than lazily on the first classifier or embedding call.
func EnsureReady(ctx context.Context, e Engine, models Models, w io.Writer) error {
	av := Probe(ctx, e, models)
	if !av.Running {
		return ErrNotRunning
	}

	for _, model := range models.Required() {
		if !contains(av.Missing, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	return nil
}
