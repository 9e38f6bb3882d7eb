package insight

import (
	"fmt"
	"strings"

	"slurmsage/internal/types"
)

// systemPrompt pins the assistant role and the JSON contract the response
// parser expects. Keeping the schema in the system half lets the user half
// stay purely about this script.
const systemPrompt = `You are an expert HPC and SLURM batch-script analyzer. You review job scripts for resource allocation problems, Lustre filesystem usage, shell scripting pitfalls and performance bottlenecks.

Respond with JSON only, using exactly this structure:
{
  "findings": [
    {
      "rule_id": "short-kebab-case-id",
      "severity": "INFO|WARNING|ERROR",
      "title": "Short title of the issue",
      "message": "Explanation written for the user's experience level",
      "line_number": null or a 1-based line number,
      "category": "resource|lustre|shell|performance|security|other"
    }
  ]
}
Return {"findings": []} when you have nothing to add.`

func tierDescription(tier types.Tier) string {
	switch tier {
	case types.TierBasic:
		return "a beginner HPC user"
	case types.TierAdvanced:
		return "an advanced HPC user"
	default:
		return "an intermediate HPC user"
	}
}

// buildPrompt assembles the user half of the request: the script (bounded),
// what the deterministic stages already found, and any in-script analyzer
// requests, so the model adds to the analysis instead of repeating it.
func buildPrompt(rec *types.AnalysisRecord, maxScriptBytes int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "The user is %s.\n\n", tierDescription(rec.UserTier))

	b.WriteString("SLURM script:\n")
	ex := excerpt(rec.SourceText, maxScriptBytes)
	b.WriteString(ex)
	if !strings.HasSuffix(ex, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("Deterministic analysis already found:\n")
	if len(rec.Findings) == 0 {
		b.WriteString("- nothing\n")
	} else {
		for _, f := range rec.Findings {
			if f.LineNumber > 0 {
				fmt.Fprintf(&b, "- [%s] %s (line %d)\n", f.Severity, f.Title, f.LineNumber)
			} else {
				fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Title)
			}
		}
	}
	b.WriteString("\n")

	if len(rec.UserDirectives) > 0 {
		b.WriteString("The script author asked the analyzer to:\n")
		for _, d := range rec.UserDirectives {
			fmt.Fprintf(&b, "- %s (line %d)\n", d.Text, d.LineNumber)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Analyze for:
1. Resource allocation issues (memory, CPU, time, nodes)
2. Lustre filesystem optimization opportunities
3. Shell scripting problems (error handling, quoting, variable usage)
4. Performance bottlenecks
5. Anything else worth flagging

Report only issues not already listed above. Respond with the JSON structure from the system instructions and nothing else.`)

	return b.String()
}

// excerpt bounds the script portion of the prompt, cutting on a line
// boundary so the model never sees a half line.
func excerpt(script string, maxBytes int) string {
	if maxBytes <= 0 || len(script) <= maxBytes {
		return script
	}
	cut := script[:maxBytes]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = cut[:i]
	}
	return cut + "\n# [script truncated for analysis]"
}
