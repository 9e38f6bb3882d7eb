package distill

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"slurmsage/internal/rules"
	"slurmsage/internal/types"
)

// errNoTrigger marks observations whose text implicates nothing the
// condition grammar can express; they stay one-off findings.
var errNoTrigger = errors.New("observation implicates no reusable trigger")

// stripingHints tie an observation to striping layout; negationHints flip
// the trigger to "striping absent".
var (
	stripingHints = []string{"setstripe", "striping", "stripe", "stripes"}
	negationHints = []string{"without strip", "no strip", "missing strip", "not striped", "unstriped"}
)

// synthesis is what an observation's text implicates: tool names from the
// configured vocabulary, and whether it talks about striping being present
// or absent.
type synthesis struct {
	tools    []string
	striping bool
	negated  bool
}

func analyzeObservation(f types.Finding, vocabulary []string) synthesis {
	text := strings.ToLower(f.Title + " " + f.Message)
	tokens := tokenize(text)

	var s synthesis
	for _, tool := range vocabulary {
		if tokens[strings.ToLower(tool)] {
			s.tools = append(s.tools, strings.ToLower(tool))
		}
	}
	for _, hint := range stripingHints {
		if tokens[hint] {
			s.striping = true
			break
		}
	}
	if s.striping {
		for _, hint := range negationHints {
			if strings.Contains(text, hint) {
				s.negated = true
				break
			}
		}
	}
	return s
}

func tokenize(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[tok] = true
	}
	return set
}

// syntheticID derives the candidate's stable identifier. The same
// observation title with the same implicated pattern re-synthesizes the
// same id, which is what makes the store's collision check meaningful.
func syntheticID(title string, s synthesis) string {
	parts := append([]string(nil), s.tools...)
	switch {
	case s.striping && s.negated:
		parts = append(parts, "no-striping")
	case s.striping:
		parts = append(parts, "striping")
	}
	if len(parts) == 0 {
		parts = []string{"observation"}
	}

	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(title)) + "|" + strings.Join(parts, ",")))

	slugParts := parts
	if len(slugParts) > 3 {
		slugParts = slugParts[:3]
	}
	slug := slugify(strings.Join(slugParts, "-"))
	if slug == "" {
		slug = "observation"
	}
	return "learned-" + slug + "-" + hex.EncodeToString(sum[:4])
}

func buildTrigger(s synthesis) (rules.Condition, error) {
	stripeLeaf := rules.Condition{Op: rules.OpElementCount, Striping: true, Compare: rules.CmpGe, Value: 1}
	if s.negated {
		stripeLeaf = rules.Condition{Op: rules.OpElementCount, Striping: true, Compare: rules.CmpEq, Value: 0}
	}

	switch {
	case len(s.tools) > 0 && s.striping:
		return rules.Condition{Op: rules.OpAll, Of: []rules.Condition{
			{Op: rules.OpToolsAny, Tools: s.tools},
			stripeLeaf,
		}}, nil
	case len(s.tools) > 0:
		return rules.Condition{Op: rules.OpToolsAny, Tools: s.tools}, nil
	case s.striping:
		return stripeLeaf, nil
	default:
		return rules.Condition{}, errNoTrigger
	}
}

func buildFeedback(f types.Finding) map[types.Tier]rules.Feedback {
	title := strings.TrimSpace(f.Title)
	msg := strings.TrimRight(strings.TrimSpace(f.Message), ".")
	return map[types.Tier]rules.Feedback{
		types.TierBasic: {
			Title:   title,
			Message: fmt.Sprintf("Your script contains a pattern that may cause issues: %s. Consider reviewing this section.", msg),
		},
		types.TierMedium: {
			Title:   title,
			Message: msg + ".",
		},
		types.TierAdvanced: {
			Title:   title,
			Message: fmt.Sprintf("%s. Review the affected commands against your site's filesystem and scheduler guidance.", msg),
		},
	}
}

// synthesize generalizes one observation into a candidate rule. The id is
// returned even on failure so the candidate corpus can record the rejection
// under the identity the rule would have had.
func synthesize(f types.Finding, vocabulary []string) (rules.Rule, string, error) {
	s := analyzeObservation(f, vocabulary)
	id := syntheticID(f.Title, s)

	trigger, err := buildTrigger(s)
	if err != nil {
		return rules.Rule{}, id, err
	}

	severity := f.Severity
	if !severity.IsValid() {
		severity = types.SeverityWarning
	}
	category := f.Category
	if category == "" {
		category = "learned"
	}

	return rules.Rule{
		ID:              id,
		Description:     strings.TrimSpace(f.Title),
		OwningStage:     "engine",
		SeverityDefault: severity,
		Category:        category,
		Trigger:         trigger,
		Feedback:        buildFeedback(f),
	}, id, nil
}

var nonSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := nonSlugPattern.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(slug, "-")
}
