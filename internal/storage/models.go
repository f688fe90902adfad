package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Run is one entry of the ingest run log: the outcome of ingesting one file.
type Run struct {
	ID         string
	Path       string
	BookID     string
	Status     string // "success", "skipped", "error"
	Kind       string // "source", "classifier", "storage" or empty
	Message    string
	Paragraphs int
	Pages      int
	StartedAt  time.Time
	FinishedAt time.Time
}
