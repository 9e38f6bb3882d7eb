// Package main implements the slurmsage command line interface.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"slurmsage/internal/config"
	"slurmsage/internal/logging"
)

// defaultConfigPath is used when --config is not given.
const defaultConfigPath = ".slurmsage/config.yaml"

var (
	// Global flags
	cfgPath string
	verbose bool

	// Loaded configuration, available to every command after PreRun.
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// errErrorFindings marks a completed analysis that produced at least one
// error-severity finding. main maps it to exit code 1; every other error
// is a fatal failure and exits 2.
var errErrorFindings = errors.New("analysis reported error-severity findings")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "slurmsage",
	Short: "slurmsage - SLURM batch script analyzer",
	Long: `slurmsage analyzes SLURM batch scripts for I/O and resource problems.

A deterministic rule engine evaluates every script against a durable,
versioned rule store. With --use-llm, a generative stage proposes
observations the rules cannot see, and observations that pass the
distillation gate become new rules that apply deterministically from
the next run on.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			path = defaultConfigPath
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		return logging.Initialize(cfg.Logging.Dir, level, cfg.Logging.Enabled)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default: "+defaultConfigPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging and the report trace appendix")

	// Add commands to root
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	if errors.Is(err, errErrorFindings) {
		os.Exit(1)
	}
	os.Exit(2)
}
