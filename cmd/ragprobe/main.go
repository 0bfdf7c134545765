package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hephlab/ragprobe/internal/config"
	"github.com/hephlab/ragprobe/internal/corpus"
	"github.com/hephlab/ragprobe/internal/evaluate"
	"github.com/hephlab/ragprobe/internal/llm"
	"github.com/hephlab/ragprobe/internal/progress"
	"github.com/hephlab/ragprobe/internal/question"
	"github.com/hephlab/ragprobe/internal/ragclient"
	"github.com/hephlab/ragprobe/internal/runner"
	"github.com/hephlab/ragprobe/internal/store"
	"github.com/hephlab/ragprobe/pkg/models"
)

// Version info set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath     string
	categories     []string
	maxPerCategory int
	questionsFile  string
	jsonOutput     bool
	outPath        string
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "ragprobe",
	Short: "Evaluation harness for RAG services",
	Long: `Ragprobe evaluates a RAG service end to end: it discovers a test corpus,
generates questions from source documents, queries the service, and scores
every answer against a fixed rubric.`,
}

var runCmd = &cobra.Command{
	Use:   "run [corpus-path]",
	Short: "Run an evaluation batch against a corpus",
	Long: `Run an evaluation batch.

The corpus is either a directory of source documents (images and PDFs grouped
into categories) or, with --questions, a CSV file of prepared questions.

Examples:
  ragprobe run ./corpus
  ragprobe run ./corpus --categories wire_harness,cable_assembly
  ragprobe run --questions ./questions.csv --json --out report.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ragprobe %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	runCmd.Flags().StringSliceVar(&categories, "categories", nil, "Restrict the run to these categories")
	runCmd.Flags().IntVar(&maxPerCategory, "max-per-category", 0, "Cap items per category (overrides config)")
	runCmd.Flags().StringVar(&questionsFile, "questions", "", "CSV file of prepared questions instead of a corpus directory")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results and summary as JSON")
	runCmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the JSON report to a file")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show retry and fallback details")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if rootCmd.Execute() != nil {
		os.Exit(1)
	}
}

// report is the JSON document emitted by --json and --out.
type report struct {
	Results []models.TestResult `json:"results"`
	Summary models.BatchSummary `json:"summary"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	catalog, corpusPath, err := loadCatalog(args)
	if err != nil {
		return err
	}
	if catalog.Len() == 0 {
		return fmt.Errorf("no test items found in %s", corpusPath)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	backend, err := buildBackend(cfg.Backend)
	if err != nil {
		return err
	}

	emitter := progress.NewTextEmitter(os.Stderr)
	defer emitter.Close()

	ctx := context.Background()
	rag := ragclient.New(cfg.RagURL, cfg.RagTimeout.Std(), cfg.MaxRetries, cfg.RetryBackoff.Std(), log)
	gen := question.New(backend, cfg.EvaluatorRates.Rates(), log)
	eval := evaluate.New(backend, cfg.Weights, cfg.EvaluatorRates.Rates(), log)

	orchestrator := runner.New(gen, rag, eval, *cfg, emitter, log)
	results, summary := orchestrator.RunBatch(ctx, catalog)
	emitter.Close()

	if cfg.DatabaseURL != "" {
		persistRun(ctx, cfg.DatabaseURL, corpusPath, results, summary, log)
	}

	rep := report{Results: results, Summary: summary}
	if outPath != "" {
		if err := writeReport(outPath, rep); err != nil {
			return err
		}
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	printSummary(os.Stderr, os.Stdout, summary)
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if maxPerCategory > 0 {
		cfg.MaxPerCategory = maxPerCategory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadCatalog(args []string) (*corpus.Catalog, string, error) {
	if questionsFile != "" {
		catalog, err := corpus.LoadQuestionFile(questionsFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load question file: %w", err)
		}
		return filterCatalog(catalog), questionsFile, nil
	}

	if len(args) == 0 {
		return nil, "", fmt.Errorf("corpus path required (or use --questions)")
	}
	root := args[0]
	if _, err := os.Stat(root); err != nil {
		return nil, "", fmt.Errorf("corpus not found: %s", root)
	}
	catalog, err := corpus.Discover(root, corpus.DefaultRules)
	if err != nil {
		return nil, "", fmt.Errorf("failed to discover corpus: %w", err)
	}
	return filterCatalog(catalog), root, nil
}

func filterCatalog(catalog *corpus.Catalog) *corpus.Catalog {
	if len(categories) == 0 {
		return catalog
	}
	return catalog.Filter(categories)
}

// buildBackend constructs the LLM backend once; the rest of the pipeline only
// sees the llm.Backend interface. A nil backend means offline questions and
// heuristic scoring.
func buildBackend(b config.Backend) (llm.Backend, error) {
	switch b.Kind {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendAnthropic:
		c := llm.NewAnthropicClient(b.APIKey, b.Model, b.MaxTokens, b.Timeout.Std())
		if b.BaseURL != "" {
			c.SetBaseURL(b.BaseURL)
		}
		return c, nil
	case config.BackendOpenAI:
		c := llm.NewOpenAIClient(b.APIKey, b.Model, b.MaxTokens, b.Timeout.Std())
		if b.BaseURL != "" {
			c.SetBaseURL(b.BaseURL)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend kind: %s", b.Kind)
	}
}

func persistRun(ctx context.Context, databaseURL, corpusPath string, results []models.TestResult, summary models.BatchSummary, log *logrus.Logger) {
	if err := store.Migrate(databaseURL); err != nil {
		log.WithError(err).Warn("could not migrate results database, skipping persistence")
		return
	}
	db, err := store.New(ctx, databaseURL)
	if err != nil {
		log.WithError(err).Warn("could not connect to results database, skipping persistence")
		return
	}
	defer db.Close()

	run, err := db.CreateRun(ctx, store.CreateRunParams{
		CorpusPath: corpusPath,
		Summary:    summary,
		Results:    results,
	})
	if err != nil {
		log.WithError(err).Warn("could not persist run")
		return
	}
	log.WithField("run_id", run.ID).Info("run persisted")
}

func writeReport(path string, rep report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func printSummary(stderr, stdout io.Writer, s models.BatchSummary) {
	dim := color.New(color.FgHiBlack)
	bold := color.New(color.Bold)

	fmt.Fprintln(stderr)
	_, _ = dim.Fprintln(stderr, "  "+strings.Repeat("━", 50))
	printSuccessBar(stderr, s)
	fmt.Fprintln(stderr)

	_, _ = bold.Fprintln(stdout, "RESULTS")
	fmt.Fprintf(stdout, "  Tests:            %d (%d succeeded, %d scored)\n",
		s.TotalTests, s.SuccessfulTests, s.ScoredTests)
	fmt.Fprintf(stdout, "  Avg overall:      %.2f\n", s.AvgOverall)
	fmt.Fprintf(stdout, "  Avg technical:    %.2f\n", s.AvgTechnical)
	fmt.Fprintf(stdout, "  Avg completeness: %.2f\n", s.AvgCompleteness)
	fmt.Fprintf(stdout, "  Image references: %.0f%%\n", s.ImageReferenceRate*100)
	fmt.Fprintln(stdout)

	_, _ = bold.Fprintln(stdout, "COST")
	fmt.Fprintf(stdout, "  Total:            $%.4f\n", s.TotalCost)
	fmt.Fprintf(stdout, "  Per test:         $%.4f\n", s.AvgCostPerTest)

	if s.TotalTests > 0 && s.SuccessfulTests < s.TotalTests {
		fmt.Fprintln(stderr)
		yellow := color.New(color.FgYellow)
		_, _ = yellow.Fprintf(stderr, "  %d of %d tests failed; see the error lines above.\n",
			s.TotalTests-s.SuccessfulTests, s.TotalTests)
	}
}

func printSuccessBar(w io.Writer, s models.BatchSummary) {
	const barWidth = 24
	percent := int(s.SuccessRate * 100)
	filled := percent * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}

	var barColor *color.Color
	switch {
	case percent >= 80:
		barColor = color.New(color.FgGreen)
	case percent >= 40:
		barColor = color.New(color.FgYellow)
	default:
		barColor = color.New(color.FgRed)
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(w, "  Success: %d%% ", percent)
	_, _ = barColor.Fprint(w, bar)
	dim := color.New(color.FgHiBlack)
	_, _ = dim.Fprintf(w, " (%d/%d)\n", s.SuccessfulTests, s.TotalTests)
}
