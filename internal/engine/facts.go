package engine

import (
	"regexp"
	"strconv"
	"strings"

	"slurmsage/internal/rules"
	"slurmsage/internal/types"
)

var stripeCountPattern = regexp.MustCompile(`(?:--stripe-count|-c)[=\s]+(\d+)`)

// buildFacts derives the fact view the condition trees evaluate against:
// the distinct tool set, the directive map, and the striping picture. The
// second return value is the line of the striping command worth pointing
// at in a finding (the first wide one when any is wide), 0 when there is
// none.
func buildFacts(rec *types.AnalysisRecord) (rules.Facts, int) {
	facts := rules.Facts{
		Tools:      map[string]bool{},
		Directives: map[string][]string{},
		Elements:   rec.Elements,
		Workload:   rec.WorkloadGuess,
	}

	anchorLine := 0
	firstStripeLine := 0

	for _, el := range rec.Elements {
		switch el.Kind {
		case types.ElementDirective:
			facts.Directives[el.Key] = append(facts.Directives[el.Key], el.Value)

		case types.ElementToolCommand:
			if name := firstToken(el.RawText); name != "" {
				facts.Tools[strings.ToLower(name)] = true
			}

		case types.ElementFilesystemCommand:
			if !isStripingCommand(el.RawText) {
				continue
			}
			facts.StripingCommands++
			width := extractStripeCount(el.RawText)
			if width > facts.StripeWidth {
				facts.StripeWidth = width
			}
			if firstStripeLine == 0 {
				firstStripeLine = el.LineNumber
			}
			if width > 1 && anchorLine == 0 {
				anchorLine = el.LineNumber
			}
		}
	}

	if anchorLine == 0 {
		anchorLine = firstStripeLine
	}
	return facts, anchorLine
}

func isStripingCommand(raw string) bool {
	for _, field := range strings.Fields(strings.ToLower(raw)) {
		if field == "setstripe" {
			return true
		}
	}
	return false
}

// extractStripeCount pulls the declared stripe count out of a setstripe
// invocation. An invocation without an explicit count means 1, the
// command's own default.
func extractStripeCount(raw string) int {
	m := stripeCountPattern.FindStringSubmatch(raw)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 1
	}
	return n
}

func firstToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
