// Package main implements the slurmsage command line interface.
// This file implements the analyze command: reading scripts, assembling
// the stage chain and rendering reports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slurmsage/internal/distill"
	"slurmsage/internal/engine"
	"slurmsage/internal/insight"
	"slurmsage/internal/llm"
	"slurmsage/internal/parse"
	"slurmsage/internal/pipeline"
	"slurmsage/internal/report"
	"slurmsage/internal/rules"
	"slurmsage/internal/store"
	"slurmsage/internal/types"
)

var (
	analyzeTier      string
	analyzeUseLLM    bool
	analyzeProvider  string
	analyzeModel     string
	analyzeAPIKey    string
	analyzeBaseURL   string
	analyzeRules     string
	analyzeOutput    string
	analyzeFixOutput string
	analyzeFocus     []string
	analyzeNoColor   bool
)

// analyzeCmd runs the analysis pipeline over one or more scripts
var analyzeCmd = &cobra.Command{
	Use:   "analyze <script>...",
	Short: "Analyze SLURM batch scripts",
	Long: `Analyze one or more SLURM batch scripts.

Every script runs through the parsing and rule-evaluation stages; with
--use-llm the generative insight and distillation stages run as well.
Multiple scripts are analyzed concurrently against the same rule store.

Exit codes: 0 clean, 1 when any error-severity finding is reported,
2 on fatal failure (unreadable script, empty script, bad flags).

Examples:
  slurmsage analyze job.sh
  slurmsage analyze --tier basic --focus lustre job.sh
  slurmsage analyze --use-llm --provider ollama job.sh other.sh`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeTier, "tier", "t", "", "User tier: basic, medium or advanced (default from config)")
	analyzeCmd.Flags().BoolVar(&analyzeUseLLM, "use-llm", false, "Enable the generative insight and distillation stages")
	analyzeCmd.Flags().StringVar(&analyzeProvider, "provider", "", "LLM provider: anthropic, openai, gemini or ollama (default: auto-detect)")
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "Model override for the provider")
	analyzeCmd.Flags().StringVar(&analyzeAPIKey, "api-key", "", "Provider API key (or set the provider's env var)")
	analyzeCmd.Flags().StringVar(&analyzeBaseURL, "base-url", "", "Provider base URL override")
	analyzeCmd.Flags().StringVar(&analyzeRules, "rules", "", "Rule store path (default from config)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "Write the markdown report to a file instead of the terminal")
	analyzeCmd.Flags().StringVar(&analyzeFixOutput, "fix-output", "", "Write an annotated copy of the script (single script only)")
	analyzeCmd.Flags().StringSliceVar(&analyzeFocus, "focus", nil, "Float findings of these categories to the top of the report")
	analyzeCmd.Flags().BoolVar(&analyzeNoColor, "no-color", false, "Disable colors and terminal markdown rendering")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analyzeFixOutput != "" && len(args) != 1 {
		return fmt.Errorf("--fix-output works with exactly one script")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	tier := cfg.DefaultTier()
	if analyzeTier != "" {
		t, err := types.ParseTier(analyzeTier)
		if err != nil {
			return err
		}
		tier = t
	}

	// One rule store serves the whole batch.
	storePath := cfg.Rules.StorePath
	if analyzeRules != "" {
		storePath = analyzeRules
	}
	fs := store.NewFileStore(storePath)
	if cfg.Rules.AutoBackup {
		fs.EnableBackups(cfg.Rules.BackupDir)
	}
	if err := fs.Ensure(rules.BaseRules()); err != nil {
		return fmt.Errorf("failed to initialize rule store: %w", err)
	}

	parseStage := parse.NewStage(parse.Options{
		LargeFileTools:     cfg.Analysis.LargeFileTools,
		SmallFileTools:     cfg.Analysis.SmallFileTools,
		FilesystemCommands: cfg.Analysis.FilesystemCommands,
		Marker:             cfg.Analysis.Marker,
	})
	defer parseStage.Close()

	builder := pipeline.NewBuilder().
		Add(parseStage).
		Add(engine.NewStage(engine.Options{
			Store:             fs,
			WorkloadThreshold: cfg.Analysis.WorkloadThreshold,
		}))

	if analyzeUseLLM || cfg.Analysis.EnableInsight {
		if client := buildLLMClient(ctx); client != nil {
			builder.Add(insight.NewStage(insight.Options{
				Client:  client,
				Timeout: cfg.GetLLMTimeout(),
			}))
			if analyzeUseLLM || cfg.Analysis.EnableDistill {
				var corpus distill.Recorder
				if cfg.Rules.CandidateDB != "" {
					cs, err := store.NewCandidateStore(cfg.Rules.CandidateDB)
					if err != nil {
						fmt.Fprintf(os.Stderr, "Warning: candidate corpus unavailable: %v\n", err)
					} else {
						defer cs.Close()
						corpus = cs
					}
				}
				builder.Add(distill.NewStage(distill.Options{
					Store:         fs,
					Candidates:    corpus,
					MinConfidence: cfg.Analysis.MinDistillScore,
					Vocabulary:    toolVocabulary(),
				}))
			}
		}
	}
	pipe := builder.Build()

	// Read every script up front; an unreadable path fails the whole run.
	reqs := make([]pipeline.Request, len(args))
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		reqs[i] = pipeline.Request{Label: path, SourceText: string(data), Tier: tier}
	}

	logger.Info("Analyzing scripts",
		zap.Int("count", len(reqs)),
		zap.String("tier", string(tier)),
		zap.Strings("stages", pipe.Stages()))

	results := pipe.RunBatch(ctx, reqs)

	return renderResults(results)
}

// buildLLMClient resolves provider flags, config and environment into a
// client. A missing credential degrades to deterministic-only analysis
// with a warning instead of failing the run.
func buildLLMClient(ctx context.Context) llm.Client {
	if analyzeProvider != "" {
		cfg.LLM.Provider = analyzeProvider
	}
	if analyzeModel != "" {
		cfg.LLM.Model = analyzeModel
	}
	if analyzeAPIKey != "" {
		cfg.LLM.APIKey = analyzeAPIKey
	}
	if analyzeBaseURL != "" {
		cfg.LLM.BaseURL = analyzeBaseURL
	}

	if cfg.LLM.Provider == "" {
		provider, key, err := llm.DetectProvider()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: generative analysis disabled: %v\n", err)
			return nil
		}
		cfg.LLM.Provider = string(provider)
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = key
		}
	}

	client, err := llm.NewClientFromConfig(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: generative analysis disabled: %v\n", err)
		return nil
	}
	logger.Info("Generative analysis enabled", zap.String("provider", cfg.LLM.Provider))
	return client
}

func toolVocabulary() []string {
	vocab := make([]string, 0, len(cfg.Analysis.LargeFileTools)+len(cfg.Analysis.SmallFileTools))
	vocab = append(vocab, cfg.Analysis.LargeFileTools...)
	return append(vocab, cfg.Analysis.SmallFileTools...)
}

// renderResults writes reports and maps the batch outcome to the exit
// convention: any rejected script is fatal, otherwise error-severity
// findings exit 1.
func renderResults(results []pipeline.Result) error {
	color := cfg.Report.Color && !analyzeNoColor
	renderer := report.NewRenderer(color && analyzeOutput == "", 0)

	focus := analyzeFocus
	if len(focus) == 0 {
		focus = cfg.Analysis.FocusCategories
	}
	opts := report.Options{
		FocusCategories: focus,
		CorrectedScript: analyzeFixOutput != "",
		Verbose:         verbose,
	}

	var fatal, sawError bool
	var parts []string
	for _, res := range results {
		if res.Err != nil {
			fatal = true
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", res.Label, res.Err)
			continue
		}

		md := report.Markdown(res.Record, opts)
		if len(results) > 1 {
			md = fmt.Sprintf("**Script:** `%s`\n\n%s", res.Label, md)
		}
		parts = append(parts, md)

		for _, f := range res.Record.Findings {
			if f.Severity == types.SeverityError {
				sawError = true
			}
		}

		if analyzeOutput == "" {
			fmt.Print(renderer.Render(md))
			fmt.Fprintln(os.Stderr, report.StatusLine(res.Record, color))
		}

		if analyzeFixOutput != "" {
			annotated := report.AnnotateScript(res.Record)
			if err := os.WriteFile(analyzeFixOutput, []byte(annotated), 0644); err != nil {
				return fmt.Errorf("failed to write annotated script: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Annotated script written to %s\n", analyzeFixOutput)
		}
	}

	if analyzeOutput != "" && len(parts) > 0 {
		doc := strings.Join(parts, "\n---\n\n")
		if err := os.WriteFile(analyzeOutput, []byte(doc), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Report written to %s\n", analyzeOutput)
	}

	if fatal {
		return fmt.Errorf("one or more scripts could not be analyzed")
	}
	if sawError {
		return errErrorFindings
	}
	return nil
}
