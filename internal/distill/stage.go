// Package distill turns insight observations into durable rules. Each
// observation is generalized into a candidate with a deterministic id and a
// trigger in the shared condition grammar, pushed through the validation
// gate, and appended to the rule store when it survives. Every candidate,
// accepted or not, lands in the local candidate corpus for operator review.
package distill

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"slurmsage/internal/logging"
	"slurmsage/internal/rules"
	"slurmsage/internal/store"
	"slurmsage/internal/types"
)

// StageName identifies this stage in trace entries and findings.
const StageName = "distill"

// observationOrigin is the stage whose findings this stage distills.
const observationOrigin = "insight"

// DefaultMinConfidence is the confidence floor an observation must clear
// before it is considered for rule synthesis.
const DefaultMinConfidence = 0.7

// Appender is the rule-store write half used by the gate.
type Appender interface {
	Append(rules.Rule) error
}

// Recorder is the candidate corpus. Recording failures are logged, never
// surfaced; the corpus is advisory.
type Recorder interface {
	Record(ctx context.Context, c store.Candidate) error
}

// Options configures the distillation stage.
type Options struct {
	Store         Appender
	Candidates    Recorder
	MinConfidence float64
	Vocabulary    []string
}

// Stage is the distillation stage.
type Stage struct {
	store         Appender
	candidates    Recorder
	minConfidence float64
	vocabulary    []string
}

// NewStage creates a distillation stage. The vocabulary defaults to the
// built-in tool sets.
func NewStage(opts Options) *Stage {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.Vocabulary == nil {
		opts.Vocabulary = append(append([]string(nil), rules.DefaultLargeFileTools...), rules.DefaultSmallFileTools...)
	}
	return &Stage{
		store:         opts.Store,
		candidates:    opts.Candidates,
		minConfidence: opts.MinConfidence,
		vocabulary:    opts.Vocabulary,
	}
}

// Name implements the pipeline stage contract.
func (s *Stage) Name() string {
	return StageName
}

// Run distills the record's insight observations into rule candidates.
// Rejections (low confidence, inexpressible trigger, validation failure,
// id collision) drop that candidate only; the run always completes.
func (s *Stage) Run(ctx context.Context, rec *types.AnalysisRecord) error {
	timer := logging.StartTimer(logging.CategoryDistill, "Run")
	defer timer.Stop()

	if s.store == nil {
		rec.AppendTrace(StageName, "skipped", map[string]interface{}{
			"reason": "no rule store configured",
		})
		return nil
	}

	observations := rec.FindingsByOrigin(observationOrigin)
	if len(observations) == 0 {
		rec.AppendTrace(StageName, "skipped", map[string]interface{}{
			"reason": "no insight observations",
		})
		return nil
	}

	accepted := 0
	rejected := 0
	var acceptedIDs []string

	for _, obs := range observations {
		rule, id, synthErr := synthesize(obs, s.vocabulary)

		if obs.Confidence < s.minConfidence {
			s.recordCandidate(ctx, id, obs, store.DispositionRejected, "confidence below distillation threshold")
			rec.AppendTrace(StageName, "rejected", map[string]interface{}{
				"rule_id": id, "reason": "low-confidence",
			})
			rejected++
			continue
		}
		if synthErr != nil {
			s.recordCandidate(ctx, id, obs, store.DispositionRejected, synthErr.Error())
			rec.AppendTrace(StageName, "rejected", map[string]interface{}{
				"rule_id": id, "reason": "no-trigger",
			})
			rejected++
			continue
		}
		if err := rules.Validate(rule); err != nil {
			s.recordCandidate(ctx, id, obs, store.DispositionRejected, err.Error())
			rec.AppendTrace(StageName, "rejected", map[string]interface{}{
				"rule_id": id, "reason": "validation", "error": err.Error(),
			})
			rejected++
			continue
		}

		if err := s.store.Append(rule); err != nil {
			if errors.Is(err, store.ErrRuleCollision) {
				s.recordCandidate(ctx, id, obs, store.DispositionRejected, "rule id already in the store")
				rec.AppendTrace(StageName, "rejected", map[string]interface{}{
					"rule_id": id, "reason": "collision",
				})
			} else {
				logging.DistillWarn("record %s: store append for %s failed: %v", rec.ID, id, err)
				s.recordCandidate(ctx, id, obs, store.DispositionRejected, "store append failed: "+err.Error())
				rec.AppendTrace(StageName, "store-error", map[string]interface{}{
					"rule_id": id, "error": err.Error(),
				})
			}
			rejected++
			continue
		}

		s.recordCandidate(ctx, id, obs, store.DispositionAccepted, "appended to rule store")
		acceptedIDs = append(acceptedIDs, id)
		accepted++
		logging.Distill("record %s: learned rule %s", rec.ID, id)
	}

	if accepted > 0 {
		rec.AppendFinding(types.Finding{
			OriginStage: StageName,
			RuleID:      "rule-store-updated",
			Severity:    types.SeverityInfo,
			Title:       "Rule store updated",
			Message: fmt.Sprintf("Learned %d new rule(s) from this analysis: %s. Future analyses apply them deterministically.",
				accepted, strings.Join(acceptedIDs, ", ")),
			Category:   "learned",
			Confidence: 1.0,
		})
	}

	rec.AppendTrace(StageName, "distilled", map[string]interface{}{
		"candidates": len(observations),
		"accepted":   accepted,
		"rejected":   rejected,
	})
	return nil
}

func (s *Stage) recordCandidate(ctx context.Context, id string, obs types.Finding, disposition, reason string) {
	if s.candidates == nil {
		return
	}
	err := s.candidates.Record(ctx, store.Candidate{
		RuleID:      id,
		Observation: strings.TrimSpace(obs.Title + ": " + obs.Message),
		Disposition: disposition,
		Reason:      reason,
		Confidence:  obs.Confidence,
	})
	if err != nil {
		logging.DistillWarn("candidate %s not recorded: %v", id, err)
	}
}
