package engine

import (
	"context"
	"reflect"
	"testing"
)

func TestModels_Required(t *testing.T) {
	tests := []struct {
		name   string
		models Models
		want   []string
	}{
		{"all roles", Models{Classifier: "qwen2.5:7b", Embedding: "nomic-embed-text", Answer: "llama3"}, []string{"qwen2.5:7b", "nomic-embed-text", "llama3"}},
		{"shared llm", Models{Classifier: "qwen2.5:7b", Embedding: "nomic-embed-text", Answer: "qwen2.5:7b"}, []string{"qwen2.5:7b", "nomic-embed-text"}},
		{"fallback classifier", Models{Embedding: "nomic-embed-text"}, []string{"nomic-embed-text"}},
		{"none", Models{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.models.Required(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Required() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProbe(t *testing.T) {
	models := Models{Classifier: "qwen2.5:7b", Embedding: "nomic-embed-text", Answer: "qwen2.5:7b"}

	m := &mockEngine{isRunning: true, models: map[string]bool{"nomic-embed-text": true}}
	av := Probe(context.Background(), m, models)
	if !av.Running || av.Ready() {
		t.Errorf("availability = %+v, want running but not ready", av)
	}
	if !reflect.DeepEqual(av.Missing, []string{"qwen2.5:7b"}) {
		t.Errorf("missing = %v, want [qwen2.5:7b]", av.Missing)
	}
	if len(m.pulled) != 0 {
		t.Errorf("Probe pulled %v", m.pulled)
	}

	m.models["qwen2.5:7b"] = true
	if av := Probe(context.Background(), m, models); !av.Ready() {
		t.Errorf("availability = %+v, want ready", av)
	}

	down := Probe(context.Background(), &mockEngine{}, models)
	if down.Running || len(down.Missing) != 2 {
		t.Errorf("stopped server = %+v, want both models missing", down)
	}
}
