package report

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"slurmsage/internal/types"
)

// Semantic colors for status output.
var (
	successColor = lipgloss.Color("#8BC34A")
	errorColor   = lipgloss.Color("#e53935")
	warningColor = lipgloss.Color("#FFC107")
	infoColor    = lipgloss.Color("#2196F3")

	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(infoColor)
)

// Renderer renders markdown for a terminal. With color disabled, or when
// the terminal renderer cannot be built, Render passes the markdown
// through untouched.
type Renderer struct {
	term *glamour.TermRenderer
}

// NewRenderer builds a terminal renderer. width bounds word wrap; zero
// falls back to 80 columns.
func NewRenderer(color bool, width int) *Renderer {
	if !color {
		return &Renderer{}
	}
	if width <= 0 {
		width = 80
	}
	term, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return &Renderer{}
	}
	return &Renderer{term: term}
}

// Render renders markdown for the terminal, falling back to the plain
// text on any rendering failure.
func (r *Renderer) Render(markdown string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			out = markdown
		}
	}()

	if r.term == nil || markdown == "" {
		return markdown
	}
	rendered, err := r.term.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}

// StatusLine summarizes a record's findings in one colored line for
// stderr. Color selection follows the worst severity present.
func StatusLine(rec *types.AnalysisRecord, color bool) string {
	var errors, warnings, infos int
	for _, f := range rec.Findings {
		switch f.Severity {
		case types.SeverityError:
			errors++
		case types.SeverityWarning:
			warnings++
		default:
			infos++
		}
	}

	var text string
	var style lipgloss.Style
	switch {
	case len(rec.Findings) == 0:
		text = "no findings"
		style = successStyle
	case errors > 0:
		text = fmt.Sprintf("%d finding(s): %d error(s), %d warning(s), %d informational", len(rec.Findings), errors, warnings, infos)
		style = errorStyle
	case warnings > 0:
		text = fmt.Sprintf("%d finding(s): %d warning(s), %d informational", len(rec.Findings), warnings, infos)
		style = warningStyle
	default:
		text = fmt.Sprintf("%d informational finding(s)", infos)
		style = infoStyle
	}

	if !color {
		return text
	}
	return style.Render(text)
}
