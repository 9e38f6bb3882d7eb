package rules

import (
	"errors"
	"fmt"
	"regexp"

	"slurmsage/internal/types"
)

// ErrRuleInvalid wraps every validation-gate rejection so callers can match
// the whole class with errors.Is.
var ErrRuleInvalid = errors.New("invalid rule")

// Feedback is the tier-specific wording attached to a triggered rule.
type Feedback struct {
	Title   string `yaml:"title"`
	Message string `yaml:"message"`
}

// Rule is one Rule Store entry: a stable identifier, a declarative trigger
// and tiered feedback text. Rules are immutable once loaded; the store only
// ever appends new ones.
type Rule struct {
	ID              string                   `yaml:"id"`
	Description     string                   `yaml:"description,omitempty"`
	OwningStage     string                   `yaml:"owning_stage,omitempty"`
	SeverityDefault types.Severity           `yaml:"severity"`
	Category        string                   `yaml:"category,omitempty"`
	Trigger         Condition                `yaml:"trigger"`
	Feedback        map[types.Tier]Feedback  `yaml:"feedback"`
}

var ruleIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// FeedbackFor resolves the wording for a tier. Learned rules may ship a
// single tier, so missing tiers fall back to Medium, then to whichever tier
// exists (basic before advanced) so a triggered rule always has text.
func (r Rule) FeedbackFor(tier types.Tier) (Feedback, bool) {
	if fb, ok := r.Feedback[tier]; ok {
		return fb, true
	}
	if fb, ok := r.Feedback[types.TierMedium]; ok {
		return fb, true
	}
	for _, t := range []types.Tier{types.TierBasic, types.TierAdvanced} {
		if fb, ok := r.Feedback[t]; ok {
			return fb, true
		}
	}
	return Feedback{}, false
}

// Validate is the gate every rule passes before entering a store: shipped
// rules at load time, learned rules before persistence. A rule is rejected
// when its identifier is unusable, its severity is unknown, its trigger is
// not expressible in the condition grammar, or it carries no complete
// feedback text for even one tier.
func Validate(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrRuleInvalid)
	}
	if !ruleIDPattern.MatchString(r.ID) {
		return fmt.Errorf("%w: id %q is not a lowercase slug", ErrRuleInvalid, r.ID)
	}
	if !r.SeverityDefault.IsValid() {
		return fmt.Errorf("%w: rule %s: unknown severity %q", ErrRuleInvalid, r.ID, r.SeverityDefault)
	}
	if err := ValidateTrigger(r.Trigger); err != nil {
		return fmt.Errorf("%w: rule %s: trigger: %v", ErrRuleInvalid, r.ID, err)
	}
	if len(r.Feedback) == 0 {
		return fmt.Errorf("%w: rule %s: no feedback text", ErrRuleInvalid, r.ID)
	}
	for tier, fb := range r.Feedback {
		if !tier.IsValid() {
			return fmt.Errorf("%w: rule %s: unknown feedback tier %q", ErrRuleInvalid, r.ID, tier)
		}
		if fb.Title == "" || fb.Message == "" {
			return fmt.Errorf("%w: rule %s: tier %s feedback needs title and message", ErrRuleInvalid, r.ID, tier)
		}
	}
	return nil
}
