package engine

import "context"

// Availability is what the server can do right now for a set of models.
type Availability struct {
	Running bool
	// Missing lists required models that are not pulled yet.
	Missing []string
}

// Ready reports whether every required model can be served.
func (a Availability) Ready() bool {
	return a.Running && len(a.Missing) == 0
}

// Probe checks e without pulling anything. A stopped server reports every
// required model as missing.
func Probe(ctx context.Context, e Engine, models Models) Availability {
	required := models.Required()
	if !e.IsRunning(ctx) {
		return Availability{Missing: required}
	}
	av := Availability{Running: true}
	for _, name := range required {
		if !e.HasModel(ctx, name) {
			av.Missing = append(av.Missing, name)
		}
	}
	return av
}
