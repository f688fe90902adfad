package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pagegeneral/internal/ingest"
	"github.com/kalambet/pagegeneral/internal/source"
	"github.com/kalambet/pagegeneral/internal/storage"
)

// IngestRequest asks the server to ingest a file or directory on its own
// filesystem.
type IngestRequest struct {
	Path  string `json:"path"`
	Title string `json:"title"`
	Force bool   `json:"force"`
}

type jobView struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Path      string    `json:"path"`
}

type runView struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	BookID     string    `json:"book_id,omitempty"`
	Status     string    `json:"status"`
	Kind       string    `json:"kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	Paragraphs int       `json:"paragraphs"`
	Pages      int       `json:"pages"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// handleIngest queues one ingest_file job per supported file. A directory
// expands to its supported files; the per-directory title is dropped.
func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}

		info, err := os.Stat(req.Path)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "cannot read path: %v", err)
			return
		}

		paths := []string{req.Path}
		if info.IsDir() {
			paths, err = ingest.ListSupported(req.Path)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			req.Title = ""
		} else if !source.Supported(req.Path) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported file type: %s", req.Path)
			return
		}

		ids := make([]string, 0, len(paths))
		for _, p := range paths {
			id, err := ingest.Enqueue(deps.Store, ingest.FilePayload{Path: p, Title: req.Title, Force: req.Force})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
				return
			}
			ids = append(ids, id)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"jobs":   ids,
			"status": "queued",
		})
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		var payload ingest.FilePayload
		_ = json.Unmarshal([]byte(job.PayloadJSON), &payload)
		writeJSON(w, jobView{
			ID:        job.ID,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
			Path:      payload.Path,
		})
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := deps.Store.ListRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}

		out := make([]runView, len(runs))
		for i, run := range runs {
			out[i] = runView(run)
		}
		writeJSON(w, out)
	}
}
