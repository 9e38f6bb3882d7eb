// Package insight is the optional generative stage. It sends the script
// and the deterministic findings to a language model and appends whatever
// the model observes as sub-1.0-confidence findings. Every failure mode
// (no client, timeout, provider error, unusable response) degrades to a
// trace entry; the deterministic result is never at risk.
package insight

import (
	"context"
	"strings"
	"time"

	"slurmsage/internal/llm"
	"slurmsage/internal/logging"
	"slurmsage/internal/types"
)

// StageName identifies this stage in trace entries and findings.
const StageName = "insight"

// Confidence assigned to model observations. Parsed observations rank below
// deterministic findings; a response that defeats the parser ranks far
// below that but is still surfaced rather than dropped.
const (
	parsedConfidence   = 0.8
	unparsedConfidence = 0.3
)

const (
	defaultTimeout         = 120 * time.Second
	defaultMaxScriptBytes  = 16 * 1024
	defaultMaxObservations = 8
)

// Options configures the insight stage.
type Options struct {
	Client          llm.Client
	Timeout         time.Duration
	MaxScriptBytes  int
	MaxObservations int
}

// Stage is the generative analysis stage.
type Stage struct {
	client          llm.Client
	timeout         time.Duration
	maxScriptBytes  int
	maxObservations int
}

// NewStage creates an insight stage. A nil client is allowed; the stage
// then records that it was skipped and does nothing else.
func NewStage(opts Options) *Stage {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxScriptBytes <= 0 {
		opts.MaxScriptBytes = defaultMaxScriptBytes
	}
	if opts.MaxObservations <= 0 {
		opts.MaxObservations = defaultMaxObservations
	}
	return &Stage{
		client:          opts.Client,
		timeout:         opts.Timeout,
		maxScriptBytes:  opts.MaxScriptBytes,
		maxObservations: opts.MaxObservations,
	}
}

// Name implements the pipeline stage contract.
func (s *Stage) Name() string {
	return StageName
}

// Run asks the model for observations and appends them as findings.
func (s *Stage) Run(ctx context.Context, rec *types.AnalysisRecord) error {
	timer := logging.StartTimer(logging.CategoryInsight, "Run")
	defer timer.Stop()

	if s.client == nil {
		rec.AppendTrace(StageName, "skipped", map[string]interface{}{
			"reason": "no generative capability configured",
		})
		return nil
	}

	prompt := buildPrompt(rec, s.maxScriptBytes)

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	response, err := s.client.CompleteWithSystem(callCtx, systemPrompt, prompt)
	if err != nil {
		logging.InsightWarn("record %s: generative call failed: %v", rec.ID, err)
		rec.AppendTrace(StageName, "capability-error", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	observations, perr := parseObservations(response)
	if perr != nil {
		if strings.TrimSpace(response) == "" {
			rec.AppendTrace(StageName, "empty-response", map[string]interface{}{})
			return nil
		}
		// The text may still carry something useful; keep it as one
		// low-confidence finding instead of throwing it away.
		rec.AppendFinding(types.Finding{
			OriginStage: StageName,
			RuleID:      "insight-unparsed",
			Severity:    types.SeverityInfo,
			Title:       "Model commentary (unparsed)",
			Message:     clip(response, 1200),
			Category:    "other",
			Confidence:  unparsedConfidence,
		})
		rec.AppendTrace(StageName, "parse-fallback", map[string]interface{}{
			"error":          perr.Error(),
			"response_bytes": len(response),
		})
		return nil
	}

	capped := false
	if len(observations) > s.maxObservations {
		observations = observations[:s.maxObservations]
		capped = true
	}

	added := 0
	for _, obs := range observations {
		ruleID := slugify(obs.RuleID)
		if ruleID == "" {
			ruleID = "insight-observation"
		}
		title := strings.TrimSpace(obs.Title)
		if title == "" {
			title = "Observation from generative analysis"
		}
		message := strings.TrimSpace(obs.Message)
		if message == "" {
			message = "The model reported an issue without detail."
		}
		category := strings.ToLower(strings.TrimSpace(obs.Category))
		if category == "" {
			category = "other"
		}

		rec.AppendFinding(types.Finding{
			OriginStage: StageName,
			RuleID:      ruleID,
			Severity:    normalizeSeverity(obs.Severity),
			Title:       title,
			Message:     message,
			LineNumber:  obs.LineNumber,
			Category:    category,
			Confidence:  parsedConfidence,
		})
		added++
	}

	detail := map[string]interface{}{
		"observations":   len(observations),
		"findings_added": added,
		"response_bytes": len(response),
	}
	if capped {
		detail["capped_at"] = s.maxObservations
	}
	rec.AppendTrace(StageName, "observed", detail)

	logging.Insight("record %s: %d observations from model", rec.ID, added)
	return nil
}
