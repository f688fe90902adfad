package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/pagegeneral/internal/api"
	"github.com/kalambet/pagegeneral/internal/config"
	"github.com/kalambet/pagegeneral/internal/engine"
	"github.com/kalambet/pagegeneral/internal/ingest"
	"github.com/kalambet/pagegeneral/internal/registry"
	"github.com/kalambet/pagegeneral/internal/retrieval"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the ingest worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, model and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "pagegeneral.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(ctx context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "pagegeneral version %s\n", version)

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	cfg := a.cfg

	// Refuse to start twice against the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("pagegeneral is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("pagegeneral is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	// Summaries and exports work without Ollama, so a missing engine only
	// degrades ingestion and search.
	if err := engine.EnsureReady(ctx, a.eng, a.ingestModels(), os.Stderr); err != nil {
		printWarning("Ollama not ready (%v); ingestion and search will fail until it is", err)
	}

	pipeline, err := a.newPipeline(nil)
	if err != nil {
		return err
	}
	worker := ingest.NewWorker(a.store, pipeline, 500*time.Millisecond)
	go worker.Run(ctx)

	handler := api.NewHandler(api.AppDeps{
		Query: a.query,
		Store: a.store,
		TopK:  cfg.Retrieval.TopK,
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Query: a.query, TopK: cfg.Retrieval.TopK})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "pagegeneral listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("pagegeneral is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop pagegeneral (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to pagegeneral (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	a, err := openApp()
	if err != nil {
		// Still show partial status even if the stores cannot be opened.
		printError("%v", err)
		return nil
	}
	defer a.Close()
	cfg := a.cfg

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	models := engine.Models{Classifier: cfg.Ollama.LLMModel, Embedding: cfg.Ollama.EmbedModel, Answer: cfg.Ollama.LLMModel}
	if av := engine.Probe(ctx, a.eng, models); av.Running {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		printStatus("LLM model", "%s%s", cfg.Ollama.LLMModel, modelState(av, cfg.Ollama.LLMModel))
		printStatus("Embed model", "%s%s", cfg.Ollama.EmbedModel, modelState(av, cfg.Ollama.EmbedModel))
	} else {
		printStatus("Ollama", "not running at %s", cfg.Ollama.BaseURL)
	}

	stats, err := a.books.Stats()
	if err != nil {
		return err
	}
	printStatus("Books", "%s", bookStatsLabel(stats))
	printStatus("Pages", "%d", stats.TotalPages)

	if n, err := a.retriever.Count(ctx); err == nil {
		printStatus("Paragraphs", "%d", n)
	}
	if cols, err := retrieval.NewSQLiteStore(a.store.DB()).Collections(ctx); err == nil {
		delete(cols, retrieval.MainCollection)
		printStatus("Division collections", "%d", len(cols))
	}
	if stats, err := a.retriever.DivisionStats(ctx); err == nil {
		printStatus("Top divisions", "%s", divisionStatsLabel(stats, 5))
	}
	if versions, err := a.store.AppliedMigrations(); err == nil {
		printStatus("Schema", "%s", schemaLabel(versions))
	}

	printStatus("Registry", "%s", a.books.Path())
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func modelState(av engine.Availability, model string) string {
	for _, m := range av.Missing {
		if m == model {
			return " (not pulled)"
		}
	}
	return ""
}

// divisionStatsLabel renders the n most referenced divisions as
// "5 (40), 9 (12)"; ties go to the lower identifier.
func divisionStatsLabel(stats map[string]int, n int) string {
	if len(stats) == 0 {
		return "none"
	}
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if stats[ids[i]] != stats[ids[j]] {
			return stats[ids[i]] > stats[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > n {
		ids = ids[:n]
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s (%d)", id, stats[id])
	}
	return strings.Join(parts, ", ")
}

func schemaLabel(versions []int) string {
	if len(versions) == 0 {
		return "not migrated"
	}
	return fmt.Sprintf("v%d (%d migrations)", versions[len(versions)-1], len(versions))
}

// bookStatsLabel renders registry stats as "3 (2 ready, 1 error)".
func bookStatsLabel(s registry.Stats) string {
	if s.Total == 0 {
		return "0"
	}
	parts := make([]string, 0, len(s.ByStatus))
	for st, n := range s.ByStatus {
		parts = append(parts, fmt.Sprintf("%d %s", n, st))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%d (%s)", s.Total, strings.Join(parts, ", "))
}
