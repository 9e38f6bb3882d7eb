package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slurmsage/internal/types"
)

func validRule() Rule {
	return Rule{
		ID:              "scratch-quota-check",
		Description:     "test rule",
		OwningStage:     "engine",
		SeverityDefault: types.SeverityWarning,
		Category:        "storage",
		Trigger:         Condition{Op: OpToolsAny, Tools: []string{"bwa"}},
		Feedback: map[types.Tier]Feedback{
			types.TierMedium: {Title: "t", Message: "m"},
		},
	}
}

func TestValidateBaseRules(t *testing.T) {
	for _, r := range BaseRules() {
		require.NoErrorf(t, Validate(r), "base rule %s must pass its own gate", r.ID)
		for _, tier := range []types.Tier{types.TierBasic, types.TierMedium, types.TierAdvanced} {
			fb, ok := r.FeedbackFor(tier)
			assert.True(t, ok, "rule %s tier %s", r.ID, tier)
			assert.NotEmpty(t, fb.Title)
			assert.NotEmpty(t, fb.Message)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"empty id", func(r *Rule) { r.ID = "" }},
		{"uppercase id", func(r *Rule) { r.ID = "LUSTRE-001" }},
		{"bad severity", func(r *Rule) { r.SeverityDefault = "critical" }},
		{"bad trigger", func(r *Rule) { r.Trigger = Condition{Op: "sometimes"} }},
		{"no feedback", func(r *Rule) { r.Feedback = nil }},
		{"empty message", func(r *Rule) {
			r.Feedback = map[types.Tier]Feedback{types.TierBasic: {Title: "t"}}
		}},
		{"unknown tier", func(r *Rule) {
			r.Feedback = map[types.Tier]Feedback{"expert": {Title: "t", Message: "m"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRule()
			tc.mutate(&r)
			err := Validate(r)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRuleInvalid), "error %v must wrap ErrRuleInvalid", err)
		})
	}

	require.NoError(t, Validate(validRule()))
}

func TestFeedbackForFallsBack(t *testing.T) {
	r := validRule()
	r.Feedback = map[types.Tier]Feedback{
		types.TierMedium: {Title: "medium title", Message: "medium message"},
	}

	fb, ok := r.FeedbackFor(types.TierAdvanced)
	require.True(t, ok)
	assert.Equal(t, "medium title", fb.Title, "missing tier must fall back to medium")

	r.Feedback = map[types.Tier]Feedback{
		types.TierAdvanced: {Title: "advanced only", Message: "m"},
	}
	fb, ok = r.FeedbackFor(types.TierBasic)
	require.True(t, ok)
	assert.Equal(t, "advanced only", fb.Title, "single-tier rule must still produce text")

	r.Feedback = nil
	_, ok = r.FeedbackFor(types.TierBasic)
	assert.False(t, ok)
}
