package pipeline

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/goleak"

	"slurmsage/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedStage struct {
	name    string
	traces  bool
	err     error
	panics  bool
	ranInto *[]string
}

func (s *scriptedStage) Name() string { return s.name }

func (s *scriptedStage) Run(ctx context.Context, rec *types.AnalysisRecord) error {
	if s.ranInto != nil {
		*s.ranInto = append(*s.ranInto, s.name)
	}
	if s.panics {
		panic("stage exploded")
	}
	if s.traces {
		rec.AppendTrace(s.name, "worked", map[string]interface{}{})
	}
	return s.err
}

func testRecord(t *testing.T) *types.AnalysisRecord {
	t.Helper()
	rec, err := types.NewAnalysisRecord("bwa mem ref.fa reads.fq\n", types.TierMedium)
	if err != nil {
		t.Fatalf("NewAnalysisRecord: %v", err)
	}
	return rec
}

func TestRunRejectsEmptyScript(t *testing.T) {
	pipe := New(&scriptedStage{name: "a", traces: true})

	err := pipe.Run(context.Background(), &types.AnalysisRecord{SourceText: "   \n"})
	if !errors.Is(err, types.ErrNoScript) {
		t.Errorf("blank script: err = %v, want ErrNoScript", err)
	}

	err = pipe.Run(context.Background(), nil)
	if !errors.Is(err, types.ErrNoScript) {
		t.Errorf("nil record: err = %v, want ErrNoScript", err)
	}
}

func TestRunStagesInOrder(t *testing.T) {
	var ran []string
	pipe := New(
		&scriptedStage{name: "a", traces: true, ranInto: &ran},
		&scriptedStage{name: "b", traces: true, ranInto: &ran},
		&scriptedStage{name: "c", traces: true, ranInto: &ran},
	)

	if err := pipe.Run(context.Background(), testRecord(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ran) != 3 || ran[0] != "a" || ran[1] != "b" || ran[2] != "c" {
		t.Errorf("stages ran out of order: %v", ran)
	}
}

func TestStageErrorDoesNotAbort(t *testing.T) {
	var ran []string
	pipe := New(
		&scriptedStage{name: "broken", err: errors.New("stage failure"), ranInto: &ran},
		&scriptedStage{name: "after", traces: true, ranInto: &ran},
	)

	rec := testRecord(t)
	if err := pipe.Run(context.Background(), rec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ran) != 2 {
		t.Fatalf("later stages must still run, ran %v", ran)
	}
	traces := rec.TraceFor("broken")
	if len(traces) != 1 || traces[0].Op != "stage-error" {
		t.Errorf("want stage-error trace for the broken stage, got %+v", traces)
	}
}

func TestStagePanicRecovered(t *testing.T) {
	var ran []string
	pipe := New(
		&scriptedStage{name: "volatile", panics: true, ranInto: &ran},
		&scriptedStage{name: "after", traces: true, ranInto: &ran},
	)

	rec := testRecord(t)
	if err := pipe.Run(context.Background(), rec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ran) != 2 {
		t.Fatalf("panic must not kill the pipeline, ran %v", ran)
	}
	traces := rec.TraceFor("volatile")
	if len(traces) != 1 || traces[0].Op != "panic" {
		t.Fatalf("want panic trace, got %+v", traces)
	}
	if traces[0].Detail["recovered"] != "stage exploded" {
		t.Errorf("panic detail = %v", traces[0].Detail)
	}
}

func TestIdleStageStillTraces(t *testing.T) {
	pipe := New(&scriptedStage{name: "quiet"})

	rec := testRecord(t)
	if err := pipe.Run(context.Background(), rec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	traces := rec.TraceFor("quiet")
	if len(traces) != 1 || traces[0].Op != "completed" {
		t.Errorf("idle stage should still leave a trace entry, got %+v", traces)
	}
}

func TestCanceledContextSkipsStages(t *testing.T) {
	var ran []string
	pipe := New(
		&scriptedStage{name: "a", traces: true, ranInto: &ran},
		&scriptedStage{name: "b", traces: true, ranInto: &ran},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := testRecord(t)
	if err := pipe.Run(ctx, rec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ran) != 0 {
		t.Errorf("no stage should run after cancellation, ran %v", ran)
	}
	for _, name := range []string{"a", "b"} {
		traces := rec.TraceFor(name)
		if len(traces) != 1 || traces[0].Op != "skipped" {
			t.Errorf("stage %s: want skipped trace, got %+v", name, traces)
		}
	}
}

func TestRunBatchKeepsRequestOrder(t *testing.T) {
	pipe := New(&scriptedStage{name: "a", traces: true})

	results := pipe.RunBatch(context.Background(), []Request{
		{Label: "one.sh", SourceText: "bwa mem ref.fa a.fq\n", Tier: types.TierMedium},
		{Label: "empty.sh", SourceText: "   ", Tier: types.TierMedium},
		{Label: "three.sh", SourceText: "fastqc b.fq\n", Tier: types.TierBasic},
	})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Label != "one.sh" || results[1].Label != "empty.sh" || results[2].Label != "three.sh" {
		t.Fatalf("results out of request order: %+v", results)
	}
	if results[0].Err != nil || results[0].Record == nil {
		t.Errorf("first request should succeed: %+v", results[0])
	}
	if !errors.Is(results[1].Err, types.ErrNoScript) {
		t.Errorf("empty script: err = %v, want ErrNoScript", results[1].Err)
	}
	if results[2].Record == nil || results[2].Record.UserTier != types.TierBasic {
		t.Errorf("tier should carry through: %+v", results[2])
	}
}

func TestBuilderIgnoresNilStages(t *testing.T) {
	pipe := NewBuilder().
		Add(nil).
		Add(&scriptedStage{name: "only", traces: true}).
		Add(nil).
		Build()

	if got := pipe.Stages(); len(got) != 1 || got[0] != "only" {
		t.Errorf("Stages() = %v, want [only]", got)
	}
}
