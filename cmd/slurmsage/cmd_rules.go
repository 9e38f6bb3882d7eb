// Package main implements the slurmsage command line interface.
// This file handles listing, exporting, validating and watching the
// durable rule store, plus the distillation candidate corpus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"slurmsage/internal/rules"
	"slurmsage/internal/store"
)

var (
	rulesPath  string
	exportPath string
)

// rulesCmd inspects and manages the rule store
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and manage the rule store",
	Long: `Inspect and manage the durable rule store.

Subcommands:
  list        - List every rule in the store
  export      - Write the store as YAML
  validate    - Run the validation gate over a store file
  candidates  - Show the distillation candidate corpus
  watch       - Re-validate the store on every change`,
	RunE: runRulesList,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every rule in the store",
	RunE:  runRulesList,
}

var rulesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the store (built-in + learned rules) as YAML",
	RunE:  runRulesExport,
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <store-file>",
	Short: "Run the validation gate over every rule in a store file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesValidate,
}

var rulesCandidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Show the distillation candidate corpus",
	RunE:  runRulesCandidates,
}

var rulesWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-validate the store on every change until interrupted",
	RunE:  runRulesWatch,
}

func init() {
	rulesCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "Rule store path (default from config)")
	rulesExportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "Write to a file instead of stdout")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesExportCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
	rulesCmd.AddCommand(rulesCandidatesCmd)
	rulesCmd.AddCommand(rulesWatchCmd)
}

// resolveStorePath applies the --rules override on top of the config.
func resolveStorePath() string {
	if rulesPath != "" {
		return rulesPath
	}
	return cfg.Rules.StorePath
}

// openRuleStore opens the store, seeding the built-in rules when the
// file does not exist yet so inspection commands always show the
// effective rule set.
func openRuleStore() (*store.FileStore, error) {
	fs := store.NewFileStore(resolveStorePath())
	if err := fs.Ensure(rules.BaseRules()); err != nil {
		return nil, fmt.Errorf("failed to initialize rule store: %w", err)
	}
	return fs, nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	fs, err := openRuleStore()
	if err != nil {
		return err
	}
	rs, err := fs.Load()
	if err != nil {
		return fmt.Errorf("failed to load rule store: %w", err)
	}
	version, err := fs.Version()
	if err != nil {
		return fmt.Errorf("failed to read store version: %w", err)
	}

	fmt.Printf("📚 Rule store %s (version %d, %d rules)\n", fs.Path(), version, len(rs))
	fmt.Println(strings.Repeat("─", 120))
	fmt.Printf("%-44s %-8s %-10s %-20s %s\n", "ID", "SEVERITY", "CATEGORY", "TOOLS", "DESCRIPTION")
	fmt.Println(strings.Repeat("─", 120))
	for _, r := range rs {
		tools := strings.Join(rules.CollectTools(r.Trigger), ",")
		if tools == "" {
			tools = "-"
		}
		fmt.Printf("%-44s %-8s %-10s %-20s %s\n",
			truncateStr(r.ID, 44),
			r.SeverityDefault,
			truncateStr(r.Category, 10),
			truncateStr(tools, 20),
			truncateStr(r.Description, 34))
	}
	fmt.Println(strings.Repeat("─", 120))
	return nil
}

func runRulesExport(cmd *cobra.Command, args []string) error {
	fs, err := openRuleStore()
	if err != nil {
		return err
	}
	rs, err := fs.Load()
	if err != nil {
		return fmt.Errorf("failed to load rule store: %w", err)
	}
	version, err := fs.Version()
	if err != nil {
		return fmt.Errorf("failed to read store version: %w", err)
	}

	doc := struct {
		Version int          `yaml:"version"`
		Rules   []rules.Rule `yaml:"rules"`
	}{Version: version, Rules: rs}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	if exportPath == "" {
		fmt.Print(string(data))
		return nil
	}
	if err := os.WriteFile(exportPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(os.Stderr, "%d rules exported to %s\n", len(rs), exportPath)
	return nil
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}

	rs, err := store.NewFileStore(path).Load()
	if err != nil {
		return fmt.Errorf("failed to parse store file: %w", err)
	}

	invalid := 0
	for _, r := range rs {
		if err := rules.Validate(r); err != nil {
			invalid++
			fmt.Printf("✗ %s: %v\n", r.ID, err)
			continue
		}
		fmt.Printf("✓ %s\n", r.ID)
	}

	fmt.Printf("\n%d rules checked, %d invalid\n", len(rs), invalid)
	if invalid > 0 {
		return fmt.Errorf("%d invalid rule(s) in %s", invalid, path)
	}
	return nil
}

func runRulesCandidates(cmd *cobra.Command, args []string) error {
	if cfg.Rules.CandidateDB == "" {
		fmt.Println("No candidate corpus configured (rules.candidate_db).")
		return nil
	}

	cs, err := store.NewCandidateStore(cfg.Rules.CandidateDB)
	if err != nil {
		return fmt.Errorf("failed to open candidate corpus: %w", err)
	}
	defer cs.Close()

	candidates, err := cs.GetAll()
	if err != nil {
		return fmt.Errorf("failed to read candidates: %w", err)
	}
	if len(candidates) == 0 {
		fmt.Println("No distillation candidates recorded yet.")
		return nil
	}

	fmt.Printf("🧪 Distillation candidates (%d)\n", len(candidates))
	fmt.Println(strings.Repeat("─", 110))
	fmt.Printf("%-40s %-9s %4s %5s  %s\n", "RULE ID", "STATE", "SEEN", "CONF", "REASON")
	fmt.Println(strings.Repeat("─", 110))
	for _, c := range candidates {
		fmt.Printf("%-40s %-9s %4d %5.2f  %s\n",
			truncateStr(c.RuleID, 40),
			c.Disposition,
			c.TimesSeen,
			c.Confidence,
			truncateStr(c.Reason, 44))
	}
	fmt.Println(strings.Repeat("─", 110))

	if stats, err := cs.GetStats(); err == nil {
		fmt.Printf("Accepted: %v  Rejected: %v\n", stats["accepted"], stats["rejected"])
	}
	return nil
}

func runRulesWatch(cmd *cobra.Command, args []string) error {
	path := resolveStorePath()
	if _, err := openRuleStore(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checkStore := func(p string) {
		fs := store.NewFileStore(p)
		rs, err := fs.Load()
		if err != nil {
			fmt.Printf("[%s] ✗ store unreadable: %v\n", time.Now().Format("15:04:05"), err)
			return
		}
		version, _ := fs.Version()
		invalid := 0
		for _, r := range rs {
			if err := rules.Validate(r); err != nil {
				invalid++
				fmt.Printf("[%s] ✗ %s: %v\n", time.Now().Format("15:04:05"), r.ID, err)
			}
		}
		status := "✓ valid"
		if invalid > 0 {
			status = fmt.Sprintf("✗ %d invalid rule(s)", invalid)
		}
		fmt.Printf("[%s] version %d, %d rules, %s\n", time.Now().Format("15:04:05"), version, len(rs), status)
	}

	watcher, err := store.NewStoreWatcher(path, checkStore)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Stop()

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", path)
	checkStore(path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nStopped.")

	stats := watcher.Stats()
	fmt.Printf("Events: %d  Reloads: %d  Errors: %d\n", stats.Events, stats.Reloads, stats.Errors)
	return nil
}

// truncateStr shortens s for table display.
func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
