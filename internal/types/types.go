// Package types provides shared type definitions used across slurmsage packages.
// This package exists to break import cycles between the pipeline stages and
// the rule engine. Types in this package should be foundational data
// structures with no complex dependencies.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// USER TIERS
// =============================================================================

// Tier controls how verbose the feedback text attached to a finding is.
// It never influences detection logic, only wording.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierMedium   Tier = "medium"
	TierAdvanced Tier = "advanced"
)

// ParseTier normalizes a user-supplied tier name.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierBasic:
		return TierBasic, nil
	case TierMedium:
		return TierMedium, nil
	case TierAdvanced:
		return TierAdvanced, nil
	default:
		return "", fmt.Errorf("unknown tier %q (want basic, medium or advanced)", s)
	}
}

// IsValid reports whether t is one of the three known tiers.
func (t Tier) IsValid() bool {
	return t == TierBasic || t == TierMedium || t == TierAdvanced
}

// =============================================================================
// SEVERITY
// =============================================================================

// Severity classifies a finding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityError
}

// Rank orders severities for display grouping (higher is worse).
// Finding order in a record is detection order; Rank is for renderers only.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// =============================================================================
// PARSED ELEMENTS
// =============================================================================

// ElementKind tags what a parsed script line (or sub-command) is.
type ElementKind string

const (
	// ElementDirective is a scheduler resource-request line (#SBATCH ...).
	ElementDirective ElementKind = "directive"
	// ElementToolCommand is a command whose leading token names a known
	// scientific tool.
	ElementToolCommand ElementKind = "tool_command"
	// ElementFilesystemCommand is a parallel-filesystem command (lfs, lctl).
	ElementFilesystemCommand ElementKind = "filesystem_command"
	// ElementPlainCommand is any other command line, kept verbatim.
	ElementPlainCommand ElementKind = "plain_command"
)

// ParsedElement is one classified piece of the script. Key and Value are
// populated only when Kind is ElementDirective. A ParsedElement belongs to
// exactly one AnalysisRecord.
type ParsedElement struct {
	Kind       ElementKind
	Key        string
	Value      string
	LineNumber int
	RawText    string
}

// UserDirective is an in-script request addressed to the analyzer itself,
// written as a marker comment (for example "# slurmsage: check my striping").
type UserDirective struct {
	Text       string
	LineNumber int
}

// =============================================================================
// WORKLOAD INFERENCE
// =============================================================================

// WorkloadInference is a heuristic guess at the workflow a script implements.
type WorkloadInference struct {
	Name       string
	Confidence float64
	Tools      []string
}

// =============================================================================
// FINDINGS
// =============================================================================

// Finding is one reported issue or observation.
// Message is already resolved for the record's tier when the finding is made.
// LineNumber 0 means the finding is script-wide.
type Finding struct {
	OriginStage string
	RuleID      string
	Severity    Severity
	Title       string
	Message     string
	LineNumber  int
	Category    string
	Confidence  float64
}

// =============================================================================
// TRACE
// =============================================================================

// TraceEntry records one operation performed by a stage. The trace is
// append-only; entries are never mutated or removed once written.
type TraceEntry struct {
	Stage  string
	Op     string
	Detail map[string]interface{}
	Time   time.Time
}
