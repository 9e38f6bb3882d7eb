// Package config loads and persists slurmsage configuration.
// Configuration lives in a YAML file; environment variables override the
// file so CI jobs and one-off runs never need to edit it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"slurmsage/internal/rules"
	"slurmsage/internal/types"
)

// Config holds all slurmsage configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration (insight stage)
	LLM LLMConfig `yaml:"llm"`

	// Rule store configuration
	Rules RulesConfig `yaml:"rules"`

	// Analysis settings
	Analysis AnalysisConfig `yaml:"analysis"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Report rendering
	Report ReportConfig `yaml:"report"`
}

// LLMConfig configures the generative-model capability.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // anthropic, openai, gemini, ollama
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Timeout   string `yaml:"timeout"`
	MaxTokens int    `yaml:"max_tokens"`
}

// RulesConfig configures the durable rule store.
type RulesConfig struct {
	StorePath   string `yaml:"store_path"`
	BackupDir   string `yaml:"backup_dir"`
	AutoBackup  bool   `yaml:"auto_backup"`
	CandidateDB string `yaml:"candidate_db"`
}

// AnalysisConfig configures the pipeline stages.
type AnalysisConfig struct {
	DefaultTier        string   `yaml:"default_tier"`
	LargeFileTools     []string `yaml:"large_file_tools"`
	SmallFileTools     []string `yaml:"small_file_tools"`
	FilesystemCommands []string `yaml:"filesystem_commands"`
	Marker             string   `yaml:"marker"`
	WorkloadThreshold  float64  `yaml:"workload_threshold"`
	EnableInsight      bool     `yaml:"enable_insight"`
	EnableDistill      bool     `yaml:"enable_distill"`
	MinDistillScore    float64  `yaml:"min_distill_score"`
	FocusCategories    []string `yaml:"focus_categories"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Level   string `yaml:"level"`
}

// ReportConfig configures report rendering.
type ReportConfig struct {
	Format string `yaml:"format"` // terminal or markdown
	Color  bool   `yaml:"color"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Name:    "slurmsage",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			Timeout:   "120s",
			MaxTokens: 1024,
		},

		Rules: RulesConfig{
			StorePath:   ".slurmsage/rules.yaml",
			BackupDir:   ".slurmsage/backups",
			AutoBackup:  true,
			CandidateDB: ".slurmsage/candidates.db",
		},

		Analysis: AnalysisConfig{
			DefaultTier:        string(types.TierMedium),
			LargeFileTools:     append([]string(nil), rules.DefaultLargeFileTools...),
			SmallFileTools:     append([]string(nil), rules.DefaultSmallFileTools...),
			FilesystemCommands: append([]string(nil), rules.DefaultFilesystemCommands...),
			Marker:             "# slurmsage:",
			WorkloadThreshold:  0.5,
			EnableInsight:      false,
			EnableDistill:      false,
			MinDistillScore:    0.7,
			FocusCategories:    []string{},
		},

		Logging: LoggingConfig{
			Enabled: false,
			Dir:     ".slurmsage/logs",
			Level:   "info",
		},

		Report: ReportConfig{
			Format: "terminal",
			Color:  true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults;
// environment variables are applied last either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Provider API keys, in the same priority order llm.DetectProvider
	// uses; the first key found selects its provider. OLLAMA_HOST only
	// applies when no API key is present, because BaseURL doubles as the
	// endpoint override for the key-based providers.
	for _, p := range [...]struct{ envVar, provider string }{
		{"ANTHROPIC_API_KEY", "anthropic"},
		{"OPENAI_API_KEY", "openai"},
		{"GEMINI_API_KEY", "gemini"},
	} {
		if key := os.Getenv(p.envVar); key != "" {
			c.LLM.APIKey = key
			c.LLM.Provider = p.provider
			break
		}
	}
	if c.LLM.APIKey == "" {
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			c.LLM.BaseURL = host
			c.LLM.Provider = "ollama"
		}
	}

	if provider := os.Getenv("SLURMSAGE_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	if model := os.Getenv("SLURMSAGE_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("SLURMSAGE_RULES"); path != "" {
		c.Rules.StorePath = path
	}
	if tier := os.Getenv("SLURMSAGE_TIER"); tier != "" {
		c.Analysis.DefaultTier = tier
	}
	if dir := os.Getenv("SLURMSAGE_LOG_DIR"); dir != "" {
		c.Logging.Dir = dir
		c.Logging.Enabled = true
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// DefaultTier returns the configured tier, falling back to Medium.
func (c *Config) DefaultTier() types.Tier {
	tier, err := types.ParseTier(c.Analysis.DefaultTier)
	if err != nil {
		return types.TierMedium
	}
	return tier
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"anthropic", "openai", "gemini", "ollama"}

// Validate validates the configuration. The LLM section is only checked when
// the insight stage is enabled; deterministic-only runs need no provider.
func (c *Config) Validate() error {
	if _, err := types.ParseTier(c.Analysis.DefaultTier); err != nil {
		return fmt.Errorf("analysis.default_tier: %w", err)
	}
	if c.Analysis.WorkloadThreshold < 0 || c.Analysis.WorkloadThreshold > 1 {
		return fmt.Errorf("analysis.workload_threshold %v out of range [0,1]", c.Analysis.WorkloadThreshold)
	}
	if c.Rules.StorePath == "" {
		return fmt.Errorf("rules.store_path not configured")
	}

	if !c.Analysis.EnableInsight {
		return nil
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.APIKey == "" && c.LLM.Provider != "ollama" {
		return fmt.Errorf("LLM API key not configured (set ANTHROPIC_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY)")
	}
	return nil
}
