package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/pagegeneral/internal/config"
	"github.com/kalambet/pagegeneral/internal/engine"
	"github.com/kalambet/pagegeneral/internal/ingest"
	"github.com/kalambet/pagegeneral/internal/query"
	"github.com/kalambet/pagegeneral/internal/source"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Ingest a book, or every book in a directory",
	Long: `Ingest a book, or every supported book directly inside a directory.

Supported formats: ` + strings.Join(source.Extensions(), ", ") + `

Examples:
  pagegeneral ingest ./books/gallipoli.pdf --title "Gallipoli 1915"
  pagegeneral ingest ./books
  pagegeneral ingest ./books/gallipoli.pdf --force
  pagegeneral ingest /srv/books --remote`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("a file or directory path is required")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		title, _ := cmd.Flags().GetString("title")
		force, _ := cmd.Flags().GetBool("force")
		remote, _ := cmd.Flags().GetBool("remote")

		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			return ingestRemote(cmd, client, path, title, force)
		}

		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("cannot read %s: %w", path, err)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		printStep("Checking Ollama at %s", a.cfg.Ollama.BaseURL)
		if err := engine.EnsureReady(ctx, a.eng, a.ingestModels(), os.Stderr); err != nil {
			return err
		}

		progress := func(msg string, percent int) { printStep("[%3d%%] %s", percent, msg) }
		p, err := a.newPipeline(progress)
		if err != nil {
			return err
		}

		opts := ingest.Options{Title: title, Force: force}
		if !info.IsDir() {
			res := p.IngestFile(ctx, path, opts)
			printResult(res)
			if res.Status == ingest.StatusError {
				return fmt.Errorf("ingestion failed")
			}
			return nil
		}

		if title != "" {
			printWarning("--title is ignored when ingesting a directory")
		}
		batch, err := p.IngestDir(ctx, path, opts)
		if err != nil {
			return err
		}
		for _, res := range batch.Results {
			printResult(res)
		}
		printStatus("Processed", "%d", batch.Processed)
		printStatus("Skipped", "%d", batch.Skipped)
		printStatus("Errors", "%d", batch.Errors)
		if batch.Errors > 0 {
			return fmt.Errorf("%d of %d files failed", batch.Errors, len(batch.Results))
		}
		return nil
	},
}

func ingestRemote(cmd *cobra.Command, client *apiClient, path, title string, force bool) error {
	result, err := client.queueIngest(cmd.Context(), ingestRequest{Path: path, Title: title, Force: force})
	if err != nil {
		return err
	}

	printSuccess("Queued %d ingest job(s)", len(result.Jobs))
	for _, id := range result.Jobs {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func init() {
	ingestCmd.Flags().String("title", "", "book title (default: file name)")
	ingestCmd.Flags().Bool("force", false, "re-ingest books that are already ready")
	ingestCmd.Flags().Bool("remote", false, "queue the ingestion on a running server instead")
}

// --- books ---

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "List registered books",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		books, err := a.books.ListAll()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(books) == 0 {
			fmt.Fprintln(out, "No books registered.")
			return nil
		}

		for _, b := range books {
			printBook(out, b)
		}
		return nil
	},
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count paragraphs per division",
	RunE: func(cmd *cobra.Command, args []string) error {
		book, _ := cmd.Flags().GetString("book")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.query.Summary(cmd.Context(), book)
		if err != nil {
			return err
		}
		if asJSON {
			return writeIndented(cmd.OutOrStdout(), sum)
		}
		printSummary(cmd.OutOrStdout(), sum)
		return nil
	},
}

func init() {
	summaryCmd.Flags().String("book", "", "book id (default: all ready books)")
	summaryCmd.Flags().Bool("json", false, "print the summary as JSON")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export paragraphs and the division summary as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		book, _ := cmd.Flags().GetString("book")
		output, _ := cmd.Flags().GetString("output")
		divisionsOnly, _ := cmd.Flags().GetBool("divisions-only")
		noEmbed, _ := cmd.Flags().GetBool("no-embed")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		opts := query.ExportOptions{
			BookID:            book,
			OnlyWithDivisions: divisionsOnly,
			IncludeEmbeddings: !noEmbed,
		}
		if output == "-" {
			_, err := a.query.Export(cmd.Context(), cmd.OutOrStdout(), opts)
			return err
		}

		res, err := a.query.ExportFile(cmd.Context(), output, opts)
		if err != nil {
			return err
		}
		printSuccess("Exported %d paragraphs to %s", res.TotalParagraphs, res.OutputFile)
		if len(res.DivisionsFound) > 0 {
			printStatus("Divisions", "%s", strings.Join(res.DivisionsFound, ", "))
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("book", "", "book id (default: all ready books)")
	exportCmd.Flags().StringP("output", "o", "", "output file, or - for stdout (default: <output.dir>/divisions_export[_<book>].json)")
	exportCmd.Flags().Bool("divisions-only", false, "only export paragraphs that mention a division")
	exportCmd.Flags().Bool("no-embed", false, "leave embeddings out of the export")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <question>",
	Short: "Semantic search over ingested books",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		book, _ := cmd.Flags().GetString("book")
		division, _ := cmd.Flags().GetString("division")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if limit <= 0 {
			limit = a.cfg.Retrieval.TopK
		}
		passages, err := a.query.Search(cmd.Context(), question, book, division, limit)
		if err != nil {
			return err
		}
		printPassages(cmd.OutOrStdout(), passages)
		return nil
	},
}

func init() {
	searchCmd.Flags().String("book", "", "restrict to one book id")
	searchCmd.Flags().String("division", "", "restrict to one division")
	searchCmd.Flags().Int("limit", 0, "maximum number of results (default: retrieval.top_k)")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question about a division from the indexed books",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		division, _ := cmd.Flags().GetString("division")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if limit <= 0 {
			limit = a.cfg.Retrieval.TopK
		}
		ans, err := a.query.Ask(cmd.Context(), question, division, limit)
		if errors.Is(err, query.ErrNoLLM) {
			return fmt.Errorf("no language model configured; set ollama.llm_model")
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ans.Answer)
		if len(ans.Sources) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintln(out, colorize(colorBold, "Sources:"))
			for _, s := range ans.Sources {
				fmt.Fprintf(out, "  [%s, %s] %s\n", s.Metadata.BookName, pageLabel(s.Metadata), truncate(s.Document, 80))
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("division", "", "division the question is about")
	askCmd.Flags().Int("limit", 0, "passages to ground the answer on (default: retrieval.top_k)")
	askCmd.MarkFlagRequired("division")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent ingestion runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.store.ListRuns(limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No ingestion runs recorded.")
			return nil
		}
		for _, r := range runs {
			status := r.Status
			switch r.Status {
			case string(ingest.StatusSuccess):
				status = colorize(colorGreen, status)
			case string(ingest.StatusError):
				status = colorize(colorRed, status)
			}
			fmt.Fprintf(out, "%s  %-8s  %s  %s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				status,
				r.Path,
				truncate(r.Message, 80),
			)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to show")
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs <id>",
	Short: "Show the state of a queued ingest job on a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		job, err := client.job(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeIndented(cmd.OutOrStdout(), job)
	},
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
