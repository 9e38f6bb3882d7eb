package report

import (
	"strings"
	"testing"

	"slurmsage/internal/types"
)

func newRecord(t *testing.T, tier types.Tier, script string) *types.AnalysisRecord {
	t.Helper()
	rec, err := types.NewAnalysisRecord(script, tier)
	if err != nil {
		t.Fatalf("NewAnalysisRecord: %v", err)
	}
	return rec
}

func finding(stage string, severity types.Severity, title, category string, line int) types.Finding {
	return types.Finding{
		OriginStage: stage,
		RuleID:      "rule-" + strings.ToLower(strings.ReplaceAll(title, " ", "-")),
		Severity:    severity,
		Title:       title,
		Message:     "Details about " + strings.ToLower(title) + ".",
		LineNumber:  line,
		Category:    category,
		Confidence:  1.0,
	}
}

func TestMarkdownDefaultReport(t *testing.T) {
	rec := newRecord(t, types.TierMedium, "#SBATCH -N 1\nbwa mem ref.fa r1.fq\n")
	rec.AppendElement(types.ParsedElement{Kind: types.ElementToolCommand, LineNumber: 2, RawText: "bwa mem ref.fa r1.fq"})
	rec.AppendFinding(finding("engine", types.SeverityWarning, "No striping configured", "lustre", 2))
	rec.AppendFinding(finding("engine", types.SeverityInfo, "Single node requested", "resource", 0))

	got := Markdown(rec, Options{})

	for _, want := range []string{
		"# slurmsage Analysis Report",
		"## Issues Found",
		"1. ⚠️ No striping configured (line 2)",
		"   Details about no striping configured.",
		"2. ℹ️ Single node requested\n",
		"## Analysis Summary",
		"- Total findings: 2",
		"- User profile: medium",
		"- Tools detected: bwa",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Single node requested (line") {
		t.Errorf("unanchored finding should have no line reference:\n%s", got)
	}
}

func TestMarkdownNoFindings(t *testing.T) {
	rec := newRecord(t, types.TierMedium, "echo hello\n")

	got := Markdown(rec, Options{})

	if !strings.Contains(got, "✅ No issues detected with your SLURM script!") {
		t.Errorf("clean report missing the all-clear line:\n%s", got)
	}
	if !strings.Contains(got, "- Tools detected: None detected") {
		t.Errorf("clean report should note no tools:\n%s", got)
	}
	if strings.Contains(got, "## Issues Found") {
		t.Errorf("clean report should have no findings section:\n%s", got)
	}
}

func TestMarkdownBasicTierGroupsByCategory(t *testing.T) {
	rec := newRecord(t, types.TierBasic, "line one\nline two\nline three\nline four\nline five\n")
	rec.AppendFinding(finding("engine", types.SeverityInfo, "Lustre note", "lustre", 1))
	rec.AppendFinding(finding("engine", types.SeverityError, "World writable output", "security", 2))
	rec.AppendFinding(finding("engine", types.SeverityWarning, "No striping configured", "lustre", 3))
	rec.AppendFinding(finding("engine", types.SeverityInfo, "Memory not pinned", "resource", 4))
	rec.AppendFinding(finding("engine", types.SeverityInfo, "Unquoted variable", "shell", 5))

	got := Markdown(rec, Options{})

	if !strings.Contains(got, "## Key Recommendations") {
		t.Fatalf("basic report missing recommendations section:\n%s", got)
	}
	// The error always stays; of the four non-critical findings only the
	// top three survive, so the shell note is cut.
	for _, want := range []string{"### Security", "### Lustre", "### Resource", "World writable output"} {
		if !strings.Contains(got, want) {
			t.Errorf("basic report missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Unquoted variable") {
		t.Errorf("basic report should cap non-critical findings at three:\n%s", got)
	}
	if !strings.Contains(got, "Lustre is a high-performance file system") {
		t.Errorf("basic report missing the educational description:\n%s", got)
	}
}

func TestMarkdownFocusFloatsCategoriesWithoutReordering(t *testing.T) {
	rec := newRecord(t, types.TierMedium, "one\ntwo\n")
	rec.AppendFinding(finding("engine", types.SeverityInfo, "Resource note", "resource", 1))
	rec.AppendFinding(finding("engine", types.SeverityWarning, "Lustre problem", "lustre", 2))

	got := Markdown(rec, Options{FocusCategories: []string{"LUSTRE"}})

	if !strings.Contains(got, "1. ⚠️ Lustre problem") {
		t.Errorf("focused category should be listed first:\n%s", got)
	}
	if rec.Findings[0].Title != "Resource note" {
		t.Errorf("record order must survive rendering, got %q first", rec.Findings[0].Title)
	}
}

func TestMarkdownVerboseTraceAppendix(t *testing.T) {
	rec := newRecord(t, types.TierMedium, "bwa mem ref.fa\n")
	rec.AppendTrace("engine", "evaluated", map[string]interface{}{"rules_evaluated": 2})

	got := Markdown(rec, Options{Verbose: true})

	if !strings.Contains(got, "## Analysis Trace") {
		t.Fatalf("verbose report missing trace appendix:\n%s", got)
	}
	if !strings.Contains(got, "`[engine]` evaluated: rules_evaluated=2") {
		t.Errorf("trace entry not rendered:\n%s", got)
	}

	quiet := Markdown(rec, Options{})
	if strings.Contains(quiet, "## Analysis Trace") {
		t.Errorf("trace appendix should be opt-in:\n%s", quiet)
	}
}

func TestMarkdownCorrectedScript(t *testing.T) {
	rec := newRecord(t, types.TierMedium, "#SBATCH -N 1\nbwa mem ref.fa\n")
	rec.AppendFinding(finding("engine", types.SeverityWarning, "No striping configured", "lustre", 2))

	got := Markdown(rec, Options{CorrectedScript: true})

	if !strings.Contains(got, "## Corrected Script") {
		t.Fatalf("report missing corrected script section:\n%s", got)
	}
	if !strings.Contains(got, "```bash\n") {
		t.Errorf("corrected script should be fenced as bash:\n%s", got)
	}
	if !strings.Contains(got, "# Finding 1: No striping configured") {
		t.Errorf("corrected script missing annotation:\n%s", got)
	}
}

func TestMarkdownNotesGenerativeFindings(t *testing.T) {
	rec := newRecord(t, types.TierMedium, "bwa mem ref.fa\n")
	rec.AppendFinding(types.Finding{
		OriginStage: originInsight,
		RuleID:      "llm-0001",
		Severity:    types.SeverityInfo,
		Title:       "Model observation",
		Message:     "Something the rules cannot see.",
		Category:    "other",
		Confidence:  0.8,
	})

	got := Markdown(rec, Options{})

	if !strings.Contains(got, "- Generative analysis:") {
		t.Errorf("summary should flag model-sourced findings:\n%s", got)
	}
}

func TestMarkdownEchoesUserDirectives(t *testing.T) {
	rec := newRecord(t, types.TierMedium, "# slurmsage: check my striping\nbwa mem ref.fa\n")
	rec.AppendUserDirective(types.UserDirective{Text: "check my striping", LineNumber: 1})

	got := Markdown(rec, Options{})

	if !strings.Contains(got, `- Your requests: "check my striping" (line 1)`) {
		t.Errorf("summary should echo in-script requests:\n%s", got)
	}
}

func TestDetectedToolsSortedDeduped(t *testing.T) {
	rec := newRecord(t, types.TierMedium, "samtools sort a.bam\nbwa mem ref.fa\nbwa index ref.fa\n")
	rec.AppendElement(types.ParsedElement{Kind: types.ElementToolCommand, LineNumber: 1, RawText: "samtools sort a.bam"})
	rec.AppendElement(types.ParsedElement{Kind: types.ElementToolCommand, LineNumber: 2, RawText: "bwa mem ref.fa"})
	rec.AppendElement(types.ParsedElement{Kind: types.ElementToolCommand, LineNumber: 3, RawText: "bwa index ref.fa"})

	if got := detectedTools(rec); got != "bwa, samtools" {
		t.Errorf("detectedTools = %q, want %q", got, "bwa, samtools")
	}
}
