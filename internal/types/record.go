package types

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoScript is returned when an analysis is requested for empty input.
// This is the only condition that rejects a request outright; everything
// downstream degrades instead of failing.
var ErrNoScript = errors.New("analysis record requires non-empty script text")

// AnalysisRecord is the shared record threaded through the pipeline. One
// record serves exactly one analysis request and is never persisted.
//
// Stages receive the record as an exclusive mutable reference and may only
// append to Elements, UserDirectives, Findings and Trace. WorkloadGuess may
// be set when unset, or replaced by a strictly more confident guess. Use the
// mutator methods; they are the contract, not a convention.
type AnalysisRecord struct {
	ID             string
	SourceText     string
	UserTier       Tier
	Elements       []ParsedElement
	UserDirectives []UserDirective
	WorkloadGuess  *WorkloadInference
	Findings       []Finding
	Trace          []TraceEntry

	lineCount int
}

// NewAnalysisRecord creates a record for one analysis request.
// The tier defaults to Medium when invalid or unset.
func NewAnalysisRecord(sourceText string, tier Tier) (*AnalysisRecord, error) {
	if strings.TrimSpace(sourceText) == "" {
		return nil, ErrNoScript
	}
	if !tier.IsValid() {
		tier = TierMedium
	}
	return &AnalysisRecord{
		ID:         uuid.New().String(),
		SourceText: sourceText,
		UserTier:   tier,
		lineCount:  countLines(sourceText),
	}, nil
}

func countLines(s string) int {
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// LineCount returns the number of lines in the source text.
func (r *AnalysisRecord) LineCount() int {
	if r.lineCount == 0 {
		r.lineCount = countLines(r.SourceText)
	}
	return r.lineCount
}

// AppendElement appends one parsed element. Elements stay in source order;
// callers append as they scan.
func (r *AnalysisRecord) AppendElement(el ParsedElement) {
	r.Elements = append(r.Elements, el)
}

// AppendUserDirective appends one in-script analyzer request.
func (r *AnalysisRecord) AppendUserDirective(d UserDirective) {
	r.UserDirectives = append(r.UserDirectives, d)
}

// AppendFinding appends a finding in detection order. Findings whose line
// number does not exist in the source are recorded as script-wide instead of
// being dropped.
func (r *AnalysisRecord) AppendFinding(f Finding) {
	if f.LineNumber < 0 || f.LineNumber > r.LineCount() {
		f.LineNumber = 0
	}
	if f.Confidence <= 0 || f.Confidence > 1 {
		f.Confidence = 1.0
	}
	r.Findings = append(r.Findings, f)
}

// AppendTrace appends a trace entry for one stage operation.
func (r *AnalysisRecord) AppendTrace(stage, op string, detail map[string]interface{}) {
	r.Trace = append(r.Trace, TraceEntry{Stage: stage, Op: op, Detail: detail, Time: time.Now()})
}

// ProposeWorkload installs a workload guess if the record has none, or if the
// proposal is strictly more confident than the current one. Reports whether
// the proposal was installed.
func (r *AnalysisRecord) ProposeWorkload(w WorkloadInference) bool {
	if r.WorkloadGuess != nil && w.Confidence <= r.WorkloadGuess.Confidence {
		return false
	}
	r.WorkloadGuess = &WorkloadInference{
		Name:       w.Name,
		Confidence: w.Confidence,
		Tools:      append([]string(nil), w.Tools...),
	}
	return true
}

// FindingsByOrigin returns the findings produced by one stage, in detection
// order.
func (r *AnalysisRecord) FindingsByOrigin(stage string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.OriginStage == stage {
			out = append(out, f)
		}
	}
	return out
}

// TraceFor returns the trace entries written by one stage, in order.
func (r *AnalysisRecord) TraceFor(stage string) []TraceEntry {
	var out []TraceEntry
	for _, t := range r.Trace {
		if t.Stage == stage {
			out = append(out, t)
		}
	}
	return out
}
