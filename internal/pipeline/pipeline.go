// Package pipeline drives one analysis record through the staged analysis
// chain. The pipeline is total: a stage may degrade the result but can
// never abort the run; errors and panics become trace entries and the
// next stage still executes. The only hard rejection is an empty script,
// raised before any stage runs.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"slurmsage/internal/logging"
	"slurmsage/internal/types"
)

// Stage is one pipeline step. Run receives the record as an exclusive
// mutable reference and appends to it; returning an error marks the stage
// degraded, it does not stop the pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, rec *types.AnalysisRecord) error
}

// Pipeline is an ordered stage chain, composed once at construction.
type Pipeline struct {
	stages []Stage
}

// New creates a pipeline from the given stages, in execution order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Builder assembles a pipeline. Optional stages are decided here, once,
// instead of being branched on inside the run loop.
type Builder struct {
	stages []Stage
}

// NewBuilder returns an empty pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a stage. Nil stages are ignored so callers can pass the
// result of an optional construction straight through.
func (b *Builder) Add(s Stage) *Builder {
	if s != nil {
		b.stages = append(b.stages, s)
	}
	return b
}

// Build returns the composed pipeline.
func (b *Builder) Build() *Pipeline {
	return New(b.stages...)
}

// Stages returns the composed stage names, in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes every stage against the record, in order. Each stage is
// guaranteed to leave at least one trace entry, even when it had nothing
// to do or fell over.
func (p *Pipeline) Run(ctx context.Context, rec *types.AnalysisRecord) error {
	if rec == nil || strings.TrimSpace(rec.SourceText) == "" {
		return types.ErrNoScript
	}

	timer := logging.StartTimer(logging.CategoryPipeline, "Run")
	defer timer.Stop()
	rl := logging.WithRunID(logging.CategoryPipeline, rec.ID)
	rl.Info("running %d stages", len(p.stages))

	for _, stage := range p.stages {
		if ctx.Err() != nil {
			rec.AppendTrace(stage.Name(), "skipped", map[string]interface{}{
				"reason": "context canceled",
			})
			continue
		}

		before := len(rec.TraceFor(stage.Name()))
		runStage(ctx, stage, rec)
		if len(rec.TraceFor(stage.Name())) == before {
			rec.AppendTrace(stage.Name(), "completed", map[string]interface{}{})
		}
	}

	rl.Info("done, %d findings, %d trace entries", len(rec.Findings), len(rec.Trace))
	return nil
}

func runStage(ctx context.Context, stage Stage, rec *types.AnalysisRecord) {
	defer func() {
		if r := recover(); r != nil {
			logging.PipelineWarn("stage %s panicked: %v", stage.Name(), r)
			rec.AppendTrace(stage.Name(), "panic", map[string]interface{}{
				"recovered": fmt.Sprint(r),
			})
		}
	}()

	if err := stage.Run(ctx, rec); err != nil {
		logging.PipelineWarn("stage %s degraded: %v", stage.Name(), err)
		rec.AppendTrace(stage.Name(), "stage-error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// maxConcurrentAnalyses bounds batch fan-out; analyses are cheap but the
// insight stage may hold a network call open per record.
const maxConcurrentAnalyses = 4

// Request is one script to analyze in a batch.
type Request struct {
	Label      string
	SourceText string
	Tier       types.Tier
}

// Result pairs a batch request with its outcome. Err is set when the
// request was rejected outright (empty script); degraded analyses return
// a record and a nil error.
type Result struct {
	Label  string
	Record *types.AnalysisRecord
	Err    error
}

// RunBatch analyzes several scripts concurrently through the same stage
// chain. One failed request never cancels its siblings; results come back
// in request order.
func (p *Pipeline) RunBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentAnalyses)

	for i, req := range reqs {
		g.Go(func() error {
			rec, err := types.NewAnalysisRecord(req.SourceText, req.Tier)
			if err != nil {
				results[i] = Result{Label: req.Label, Err: err}
				return nil
			}
			if err := p.Run(gctx, rec); err != nil {
				results[i] = Result{Label: req.Label, Err: err}
				return nil
			}
			results[i] = Result{Label: req.Label, Record: rec}
			return nil
		})
	}

	_ = g.Wait()
	return results
}
