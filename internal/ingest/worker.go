package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/pagegeneral/internal/storage"
)

// JobTypeIngestFile is the queue job type handled by Worker.
const JobTypeIngestFile = "ingest_file"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// FileIngester ingests a single document.
type FileIngester interface {
	IngestFile(ctx context.Context, path string, opts Options) Result
}

// FilePayload is the JSON payload of an ingest_file job.
type FilePayload struct {
	Path  string `json:"path"`
	Title string `json:"title,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// Enqueue adds an ingest_file job and returns its id. Jobs are not retried:
// ingestion outcomes, failures included, are final and land in the run log.
func Enqueue(store JobStore, payload FilePayload) (string, error) {
	if payload.Path == "" {
		return "", fmt.Errorf("enqueueing ingest job: empty path")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding ingest payload: %w", err)
	}
	id := uuid.NewString()
	if err := store.EnqueueJob(storage.Job{
		ID:          id,
		Type:        JobTypeIngestFile,
		PayloadJSON: string(data),
		MaxAttempts: 1,
	}); err != nil {
		return "", fmt.Errorf("enqueueing ingest job: %w", err)
	}
	return id, nil
}

// Worker drains ingest_file jobs from the SQLite job queue one at a time, so
// the server never runs two ingestions against the same store concurrently.
type Worker struct {
	store    JobStore
	pipeline FileIngester
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, pipeline FileIngester, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		pipeline: pipeline,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest_file job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeIngestFile})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload FilePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.Path == "" {
		return fmt.Errorf("payload has no path")
	}

	res := w.pipeline.IngestFile(ctx, payload.Path, Options{Title: payload.Title, Force: payload.Force})
	w.logger.Info("ingest job finished",
		"job_id", job.ID,
		"path", payload.Path,
		"status", res.Status,
		"book_id", res.BookID,
		"message", res.Message,
	)
	if res.Status == StatusError {
		return fmt.Errorf("%s", res.Message)
	}
	return nil
}
