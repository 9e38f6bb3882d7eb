// Package logging provides categorized file-based logging for slurmsage.
// Logs are written to one file per category under the configured log
// directory. When logging is disabled every call is a silent no-op, so
// library code can log unconditionally.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryPipeline Category = "pipeline" // stage sequencing, run lifecycle
	CategoryParse    Category = "parse"    // script scanning and classification
	CategoryEngine   Category = "engine"   // rule evaluation, workload inference
	CategoryInsight  Category = "insight"  // generative-model prompts and parsing
	CategoryDistill  Category = "distill"  // candidate synthesis and the gate
	CategoryStore    Category = "store"    // rule store and candidate corpus
	CategoryLLM      Category = "llm"      // provider HTTP traffic
	CategoryReport   Category = "report"   // rendering and annotation
	CategoryCLI      Category = "cli"      // command dispatch
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	stateMu   sync.RWMutex
	logsDir   string
	enabled   bool
	logLevel  = LevelInfo
)

// Initialize sets up the log directory and level. Call once at startup;
// before that (and whenever enable is false) every logger is a no-op.
func Initialize(dir, level string, enable bool) error {
	stateMu.Lock()
	enabled = enable
	logsDir = dir
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info", "":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	stateMu.Unlock()

	if !enable {
		return nil
	}
	if dir == "" {
		return fmt.Errorf("log directory required when logging is enabled")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// IsEnabled reports whether file logging is active.
func IsEnabled() bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return enabled
}

func currentLevel() int {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return logLevel
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger while logging is disabled.
func Get(category Category) *Logger {
	stateMu.RLock()
	dir, on := logsDir, enabled
	stateMu.RUnlock()
	if !on || dir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || currentLevel() > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || currentLevel() > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || currentLevel() > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// RUN-SCOPED LOGGING - correlates entries belonging to one analysis record
// =============================================================================

// RunLogger prefixes every entry with the analysis record id.
type RunLogger struct {
	logger *Logger
	runID  string
}

// WithRunID creates a run-scoped logger for one analysis record.
func WithRunID(category Category, runID string) *RunLogger {
	return &RunLogger{logger: Get(category), runID: runID}
}

func (r *RunLogger) Debug(format string, args ...interface{}) {
	r.logger.Debug("[run:%s] %s", r.runID, fmt.Sprintf(format, args...))
}

func (r *RunLogger) Info(format string, args ...interface{}) {
	r.logger.Info("[run:%s] %s", r.runID, fmt.Sprintf(format, args...))
}

func (r *RunLogger) Warn(format string, args ...interface{}) {
	r.logger.Warn("[run:%s] %s", r.runID, fmt.Sprintf(format, args...))
}

func (r *RunLogger) Error(format string, args ...interface{}) {
	r.logger.Error("[run:%s] %s", r.runID, fmt.Sprintf(format, args...))
}

// =============================================================================
// TIMING HELPERS - for performance logging
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without getting a logger first
// =============================================================================

// Pipeline logs to the pipeline category
func Pipeline(format string, args ...interface{}) {
	Get(CategoryPipeline).Info(format, args...)
}

// PipelineDebug logs debug to the pipeline category
func PipelineDebug(format string, args ...interface{}) {
	Get(CategoryPipeline).Debug(format, args...)
}

// PipelineWarn logs warning to the pipeline category
func PipelineWarn(format string, args ...interface{}) {
	Get(CategoryPipeline).Warn(format, args...)
}

// Parse logs to the parse category
func Parse(format string, args ...interface{}) {
	Get(CategoryParse).Info(format, args...)
}

// ParseDebug logs debug to the parse category
func ParseDebug(format string, args ...interface{}) {
	Get(CategoryParse).Debug(format, args...)
}

// Engine logs to the engine category
func Engine(format string, args ...interface{}) {
	Get(CategoryEngine).Info(format, args...)
}

// EngineDebug logs debug to the engine category
func EngineDebug(format string, args ...interface{}) {
	Get(CategoryEngine).Debug(format, args...)
}

// EngineWarn logs warning to the engine category
func EngineWarn(format string, args ...interface{}) {
	Get(CategoryEngine).Warn(format, args...)
}

// Insight logs to the insight category
func Insight(format string, args ...interface{}) {
	Get(CategoryInsight).Info(format, args...)
}

// InsightDebug logs debug to the insight category
func InsightDebug(format string, args ...interface{}) {
	Get(CategoryInsight).Debug(format, args...)
}

// InsightWarn logs warning to the insight category
func InsightWarn(format string, args ...interface{}) {
	Get(CategoryInsight).Warn(format, args...)
}

// Distill logs to the distill category
func Distill(format string, args ...interface{}) {
	Get(CategoryDistill).Info(format, args...)
}

// DistillDebug logs debug to the distill category
func DistillDebug(format string, args ...interface{}) {
	Get(CategoryDistill).Debug(format, args...)
}

// DistillWarn logs warning to the distill category
func DistillWarn(format string, args ...interface{}) {
	Get(CategoryDistill).Warn(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

// LLM logs to the llm category
func LLM(format string, args ...interface{}) {
	Get(CategoryLLM).Info(format, args...)
}

// LLMDebug logs debug to the llm category
func LLMDebug(format string, args ...interface{}) {
	Get(CategoryLLM).Debug(format, args...)
}

// LLMWarn logs warning to the llm category
func LLMWarn(format string, args ...interface{}) {
	Get(CategoryLLM).Warn(format, args...)
}

// Report logs to the report category
func Report(format string, args ...interface{}) {
	Get(CategoryReport).Info(format, args...)
}

// ReportDebug logs debug to the report category
func ReportDebug(format string, args ...interface{}) {
	Get(CategoryReport).Debug(format, args...)
}

// CLI logs to the cli category
func CLI(format string, args ...interface{}) {
	Get(CategoryCLI).Info(format, args...)
}

// CLIDebug logs debug to the cli category
func CLIDebug(format string, args ...interface{}) {
	Get(CategoryCLI).Debug(format, args...)
}
