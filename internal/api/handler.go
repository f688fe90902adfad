package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/pagegeneral/internal/query"
	"github.com/kalambet/pagegeneral/internal/registry"
	"github.com/kalambet/pagegeneral/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const maxSearchLimit = 50

// AppDeps holds the dependencies of the HTTP API.
type AppDeps struct {
	Query *query.Service
	Store *storage.Store
	TopK  int // default search limit
}

// NewHandler returns the HTTP API.
func NewHandler(deps AppDeps) http.Handler {
	if deps.TopK <= 0 {
		deps.TopK = 5
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", handleHealth)
	r.Get("/books", handleListBooks(deps))
	r.Get("/summary", handleSummary(deps))
	r.Get("/export", handleExport(deps))
	r.Get("/search", handleSearch(deps))
	r.Post("/ingest", handleIngest(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))
	r.Get("/runs", handleListRuns(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListBooks(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books, err := deps.Query.ListBooks()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list books: %v", err)
			return
		}
		if books == nil {
			books = []registry.BookRecord{}
		}
		writeJSON(w, books)
	}
}

func handleSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := deps.Query.Summary(r.Context(), r.URL.Query().Get("book"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to summarise: %v", err)
			return
		}
		writeJSON(w, sum)
	}
}

func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := query.ExportOptions{
			BookID:            r.URL.Query().Get("book"),
			OnlyWithDivisions: parseBoolParam(r, "divisions_only", false),
			IncludeEmbeddings: parseBoolParam(r, "embeddings", true),
		}

		// Encode fully before writing so a failure still yields a clean error.
		var buf bytes.Buffer
		if _, err := deps.Query.Export(r.Context(), &buf, opts); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to export: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(buf.Bytes())
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		question := q.Get("q")
		if question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", deps.TopK, maxSearchLimit)
		if limit == 0 {
			limit = deps.TopK
		}

		passages, err := deps.Query.Search(r.Context(), question, q.Get("book"), q.Get("division"), limit)
		if err != nil {
			slog.Warn("search failed", "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}
		writeJSON(w, passages)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseBoolParam(r *http.Request, key string, defaultVal bool) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	if err != nil {
		return defaultVal
	}
	return v
}
