package report

import (
	"fmt"
	"strings"

	"slurmsage/internal/rules"
	"slurmsage/internal/types"
)

// annotation pairs a finding with its 1-based report number so the
// corrected script and the findings list agree on numbering.
type annotation struct {
	num     int
	finding types.Finding
}

// AnnotateScript returns a copy of the script with finding annotations
// woven in as comments. Line-anchored findings are commented directly
// above the offending line; unanchored errors and warnings go into a
// header block after the shebang. The script itself is never altered,
// only commented, so the output stays submittable.
func AnnotateScript(rec *types.AnalysisRecord) string {
	return annotate(rec.SourceText, rec.Findings)
}

// annotate numbers findings by their position in the given slice, so a
// report that reorders findings for display can keep the corrected
// script's numbering in step.
func annotate(source string, findings []types.Finding) string {
	lines := strings.Split(strings.TrimRight(source, "\n"), "\n")
	hasShebang := len(lines) > 0 && strings.HasPrefix(lines[0], "#!")

	byLine := make(map[int][]annotation)
	var header []annotation
	for i, f := range findings {
		if !annotatable(f) {
			continue
		}
		a := annotation{num: i + 1, finding: f}
		// An annotation cannot sit above the shebang, so anything anchored
		// there joins the header block.
		if f.LineNumber >= 1 && f.LineNumber <= len(lines) && !(hasShebang && f.LineNumber == 1) {
			byLine[f.LineNumber] = append(byLine[f.LineNumber], a)
		} else {
			header = append(header, a)
		}
	}

	var b strings.Builder
	start := 0
	if hasShebang {
		b.WriteString(lines[0] + "\n")
		start = 1
	}

	for _, a := range header {
		writeAnnotation(&b, a)
	}

	for i := start; i < len(lines); i++ {
		for _, a := range byLine[i+1] {
			writeAnnotation(&b, a)
		}
		b.WriteString(lines[i] + "\n")
	}

	return b.String()
}

func writeAnnotation(b *strings.Builder, a annotation) {
	fmt.Fprintf(b, "# Finding %d: %s\n", a.num, a.finding.Title)
	if a.finding.RuleID == rules.RuleMissingStriping {
		b.WriteString("# Suggested: lfs setstripe -c 4 <output-directory>\n")
	}
}

// annotatable decides which findings earn a spot in the corrected script.
// Errors and warnings always do; informational findings only when they
// point at a concrete line. Stage bookkeeping like a rule-store update
// never does.
func annotatable(f types.Finding) bool {
	if f.OriginStage == originDistill {
		return false
	}
	if f.Severity == types.SeverityError || f.Severity == types.SeverityWarning {
		return true
	}
	return f.LineNumber > 0
}
