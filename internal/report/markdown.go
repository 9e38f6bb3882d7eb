// Package report turns an analysis record into the user-facing report.
// The markdown layer builds the document; rendering for a terminal is a
// separate, optional step so the same report can go to a file untouched.
package report

import (
	"fmt"
	"sort"
	"strings"

	"slurmsage/internal/types"
)

// Origin stage names as they appear on findings. Kept as plain strings so
// the report layer does not depend on the stage packages.
const (
	originInsight = "insight"
	originDistill = "distill"
)

// Options controls what goes into the rendered report.
type Options struct {
	// FocusCategories float matching findings to the top of the list.
	// Matching is case-insensitive; record order is never modified.
	FocusCategories []string
	// CorrectedScript embeds an annotated copy of the script.
	CorrectedScript bool
	// Verbose appends the per-stage trace appendix.
	Verbose bool
}

// Markdown builds the full report document for a record.
func Markdown(rec *types.AnalysisRecord, opts Options) string {
	var b strings.Builder
	b.WriteString("# slurmsage Analysis Report\n\n")

	findings := displayOrder(rec.Findings, opts.FocusCategories)

	switch {
	case len(findings) == 0:
		b.WriteString("✅ No issues detected with your SLURM script!\n\n")
	case rec.UserTier == types.TierBasic:
		writeBasicFindings(&b, findings)
	default:
		writeDefaultFindings(&b, findings)
	}

	if opts.CorrectedScript && len(findings) > 0 {
		b.WriteString("## Corrected Script\n\n")
		b.WriteString("```bash\n")
		b.WriteString(annotate(rec.SourceText, findings))
		b.WriteString("```\n\n")
	}

	writeSummary(&b, rec)

	if opts.Verbose {
		writeTrace(&b, rec)
	}

	return b.String()
}

// displayOrder returns a render-order copy of the findings. Without focus
// categories the detection order is kept as-is; with them, focused
// categories come first and each group is ordered worst-severity first.
// The sort is stable, so detection order breaks ties.
func displayOrder(findings []types.Finding, focus []string) []types.Finding {
	out := make([]types.Finding, len(findings))
	copy(out, findings)
	if len(focus) == 0 {
		return out
	}

	focused := make(map[string]bool, len(focus))
	for _, c := range focus {
		focused[strings.ToLower(strings.TrimSpace(c))] = true
	}

	sort.SliceStable(out, func(i, j int) bool {
		fi, fj := focused[strings.ToLower(out[i].Category)], focused[strings.ToLower(out[j].Category)]
		if fi != fj {
			return fi
		}
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

func severitySymbol(s types.Severity) string {
	switch s {
	case types.SeverityError:
		return "❌"
	case types.SeverityWarning:
		return "⚠️"
	case types.SeverityInfo:
		return "ℹ️"
	default:
		return "•"
	}
}

func lineRef(f types.Finding) string {
	if f.LineNumber > 0 {
		return fmt.Sprintf(" (line %d)", f.LineNumber)
	}
	return ""
}

// writeDefaultFindings lists every finding, numbered, for the medium and
// advanced tiers.
func writeDefaultFindings(b *strings.Builder, findings []types.Finding) {
	b.WriteString("## Issues Found\n\n")
	for i, f := range findings {
		fmt.Fprintf(b, "%d. %s %s%s\n", i+1, severitySymbol(f.Severity), f.Title, lineRef(f))
		fmt.Fprintf(b, "   %s\n\n", f.Message)
	}
}

// writeBasicFindings keeps the report short for new users: every error,
// plus at most three of the remaining findings, grouped by category with
// a plain-language introduction per group.
func writeBasicFindings(b *strings.Builder, findings []types.Finding) {
	var critical, rest []types.Finding
	for _, f := range findings {
		if f.Severity == types.SeverityError {
			critical = append(critical, f)
		} else {
			rest = append(rest, f)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].Severity.Rank() > rest[j].Severity.Rank()
	})
	if len(rest) > 3 {
		rest = rest[:3]
	}
	selected := append(critical, rest...)

	// Group by category, keeping first-seen category order.
	var order []string
	grouped := make(map[string][]types.Finding)
	for _, f := range selected {
		cat := f.Category
		if cat == "" {
			cat = "other"
		}
		if _, ok := grouped[cat]; !ok {
			order = append(order, cat)
		}
		grouped[cat] = append(grouped[cat], f)
	}

	b.WriteString("## Key Recommendations\n\n")
	for _, cat := range order {
		fmt.Fprintf(b, "### %s\n\n", titleCase(cat))
		if desc := educationalDescription(cat); desc != "" {
			b.WriteString(desc + "\n\n")
		}
		for _, f := range grouped[cat] {
			fmt.Fprintf(b, "* %s **%s%s**: %s\n", severitySymbol(f.Severity), f.Title, lineRef(f), f.Message)
		}
		b.WriteString("\n")
	}
}

func writeSummary(b *strings.Builder, rec *types.AnalysisRecord) {
	b.WriteString("## Analysis Summary\n\n")
	fmt.Fprintf(b, "- Total findings: %d\n", len(rec.Findings))
	fmt.Fprintf(b, "- User profile: %s\n", rec.UserTier)
	fmt.Fprintf(b, "- Tools detected: %s\n", detectedTools(rec))
	if rec.WorkloadGuess != nil {
		fmt.Fprintf(b, "- Workload: %s (confidence %.2f)\n", rec.WorkloadGuess.Name, rec.WorkloadGuess.Confidence)
	}
	if len(rec.UserDirectives) > 0 {
		reqs := make([]string, len(rec.UserDirectives))
		for i, d := range rec.UserDirectives {
			reqs[i] = fmt.Sprintf("%q (line %d)", d.Text, d.LineNumber)
		}
		fmt.Fprintf(b, "- Your requests: %s\n", strings.Join(reqs, ", "))
	}

	var sawInsight, sawDistill bool
	for _, f := range rec.Findings {
		switch f.OriginStage {
		case originInsight:
			sawInsight = true
		case originDistill:
			sawDistill = true
		}
	}
	if sawInsight {
		b.WriteString("- Generative analysis: some findings are model insights, shown with reduced confidence\n")
	}
	if sawDistill {
		b.WriteString("- Rule store: this analysis taught the rule engine new reusable patterns\n")
	}
	b.WriteString("\n")
}

// detectedTools lists the leading token of every tool command, as written
// in the script, sorted and deduplicated.
func detectedTools(rec *types.AnalysisRecord) string {
	seen := make(map[string]bool)
	var tools []string
	for _, el := range rec.Elements {
		if el.Kind != types.ElementToolCommand {
			continue
		}
		fields := strings.Fields(el.RawText)
		if len(fields) == 0 {
			continue
		}
		if !seen[fields[0]] {
			seen[fields[0]] = true
			tools = append(tools, fields[0])
		}
	}
	if len(tools) == 0 {
		return "None detected"
	}
	sort.Strings(tools)
	return strings.Join(tools, ", ")
}

// writeTrace appends the per-stage trace appendix. Detail keys are sorted
// so the appendix is stable across runs.
func writeTrace(b *strings.Builder, rec *types.AnalysisRecord) {
	b.WriteString("## Analysis Trace\n\n")
	for _, entry := range rec.Trace {
		fmt.Fprintf(b, "- `[%s]` %s", entry.Stage, entry.Op)
		if len(entry.Detail) > 0 {
			keys := make([]string, 0, len(entry.Detail))
			for k := range entry.Detail {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, len(keys))
			for i, k := range keys {
				parts[i] = fmt.Sprintf("%s=%v", k, entry.Detail[k])
			}
			fmt.Fprintf(b, ": %s", strings.Join(parts, " "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func titleCase(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// educationalDescription gives new users a short primer per finding
// category.
func educationalDescription(category string) string {
	switch strings.ToLower(category) {
	case "lustre":
		return "Lustre is a high-performance file system used in HPC environments. Properly configuring it for your job can significantly improve I/O performance, especially for large files."
	case "resource":
		return "Efficiently requesting and using resources like CPU, memory, and time is crucial in a shared HPC environment. This ensures your job runs smoothly and doesn't waste valuable resources."
	case "shell":
		return "Your job script is a shell script. Following best practices for shell scripting can make your script more robust, reliable, and easier to debug."
	case "performance":
		return "There are several ways to optimize your script for better performance. These recommendations focus on making your job run faster and more efficiently."
	case "security":
		return "These recommendations are related to the security of your job and data. Following them can help prevent unauthorized access and protect your work."
	default:
		return "Here are some general recommendations for improving your job script."
	}
}
