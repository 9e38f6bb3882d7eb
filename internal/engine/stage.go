// Package engine is the deterministic rule-evaluation stage: it loads a
// snapshot of the rule store, infers the workload from the parsed tool
// set, evaluates every rule's trigger tree against the record, and appends
// a tier-resolved finding per triggered rule.
package engine

import (
	"context"

	"slurmsage/internal/logging"
	"slurmsage/internal/rules"
	"slurmsage/internal/types"
)

// StageName identifies this stage in trace entries and findings.
const StageName = "engine"

// RuleSource yields the rule set to evaluate. Load is called once per run
// so each analysis sees a point-in-time snapshot.
type RuleSource interface {
	Load() ([]rules.Rule, error)
}

// Options configures the evaluation stage.
type Options struct {
	Store             RuleSource
	Signatures        []Signature
	WorkloadThreshold float64
}

// Stage is the rule-evaluation stage.
type Stage struct {
	store      RuleSource
	signatures []Signature
	threshold  float64
}

// NewStage creates an evaluation stage. Missing signatures fall back to
// the built-in tool vocabularies.
func NewStage(opts Options) *Stage {
	if opts.Signatures == nil {
		opts.Signatures = DefaultSignatures(rules.DefaultLargeFileTools, rules.DefaultSmallFileTools)
	}
	if opts.WorkloadThreshold <= 0 {
		opts.WorkloadThreshold = DefaultWorkloadThreshold
	}
	return &Stage{
		store:      opts.Store,
		signatures: opts.Signatures,
		threshold:  opts.WorkloadThreshold,
	}
}

// Name implements the pipeline stage contract.
func (s *Stage) Name() string {
	return StageName
}

// Run evaluates the rule set against the record. Store failures and
// ill-formed triggers degrade to trace entries; the stage itself never
// fails the pipeline.
func (s *Stage) Run(ctx context.Context, rec *types.AnalysisRecord) error {
	timer := logging.StartTimer(logging.CategoryEngine, "Run")
	defer timer.Stop()

	var ruleset []rules.Rule
	if s.store != nil {
		loaded, err := s.store.Load()
		if err != nil {
			logging.EngineWarn("record %s: rule store load failed: %v", rec.ID, err)
			rec.AppendTrace(StageName, "store-error", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			ruleset = loaded
		}
	}

	facts, anchorLine := buildFacts(rec)

	// Workload classification runs before trigger evaluation so triggers
	// conditioned on the inferred workload see it.
	if w := classifyWorkload(facts, s.signatures, s.threshold); w != nil {
		if rec.ProposeWorkload(*w) {
			logging.EngineDebug("record %s: workload %s (%.2f)", rec.ID, w.Name, w.Confidence)
		}
	}
	facts.Workload = rec.WorkloadGuess

	triggered := 0
	warnings := 0

	for _, rule := range ruleset {
		ok, err := rules.Evaluate(rule.Trigger, facts)
		if err != nil {
			// An ill-formed trigger is the rule's defect, not the
			// script's: treat as not triggered and leave a trace.
			logging.EngineWarn("record %s: rule %s trigger error: %v", rec.ID, rule.ID, err)
			rec.AppendTrace(StageName, "trigger-error", map[string]interface{}{
				"rule_id": rule.ID,
				"error":   err.Error(),
			})
			warnings++
			continue
		}
		if !ok {
			continue
		}

		feedback, found := rule.FeedbackFor(rec.UserTier)
		if !found {
			rec.AppendTrace(StageName, "feedback-missing", map[string]interface{}{
				"rule_id": rule.ID,
				"tier":    string(rec.UserTier),
			})
			warnings++
			continue
		}

		line := 0
		if anchorLine > 0 && rules.UsesOp(rule.Trigger, rules.OpStripeCount) {
			line = anchorLine
		}

		rec.AppendFinding(types.Finding{
			OriginStage: StageName,
			RuleID:      rule.ID,
			Severity:    rule.SeverityDefault,
			Title:       feedback.Title,
			Message:     feedback.Message,
			LineNumber:  line,
			Category:    rule.Category,
			Confidence:  1.0,
		})
		triggered++
	}

	detail := map[string]interface{}{
		"rules_evaluated":  len(ruleset),
		"rules_triggered":  triggered,
		"trigger_warnings": warnings,
		"tools_found":      len(facts.Tools),
		"striping_cmds":    facts.StripingCommands,
	}
	if rec.WorkloadGuess != nil {
		detail["workload"] = rec.WorkloadGuess.Name
	}
	rec.AppendTrace(StageName, "evaluated", detail)

	logging.Engine("record %s: evaluated %d rules, %d triggered", rec.ID, len(ruleset), triggered)
	return nil
}
