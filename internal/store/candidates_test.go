package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestCandidateStore(t *testing.T) *CandidateStore {
	t.Helper()
	cs, err := NewCandidateStore(filepath.Join(t.TempDir(), "candidates.db"))
	if err != nil {
		t.Fatalf("NewCandidateStore: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestCandidateRecordAndGetAll(t *testing.T) {
	cs := newTestCandidateStore(t)
	ctx := context.Background()

	err := cs.Record(ctx, Candidate{
		RuleID:      "learned-ior-aa11bb22",
		Observation: "IOR benchmark without striping on large shared file",
		Disposition: DispositionAccepted,
		Confidence:  0.8,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	err = cs.Record(ctx, Candidate{
		RuleID:      "learned-hdf5-cc33dd44",
		Observation: "HDF5 collective writes observed",
		Disposition: DispositionRejected,
		Reason:      "rule id already in store",
		Confidence:  0.4,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	all, err := cs.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(all))
	}
	if all[0].RuleID != "learned-ior-aa11bb22" {
		t.Errorf("expected highest-confidence candidate first, got %q", all[0].RuleID)
	}
	if all[1].Reason != "rule id already in store" {
		t.Errorf("rejection reason not persisted: %q", all[1].Reason)
	}
}

func TestCandidateUpsertReinforces(t *testing.T) {
	cs := newTestCandidateStore(t)
	ctx := context.Background()

	c := Candidate{
		RuleID:      "learned-mdtest-ee55ff66",
		Observation: "mdtest metadata storm",
		Disposition: DispositionRejected,
		Reason:      "trigger inexpressible",
		Confidence:  0.5,
	}
	for i := 0; i < 3; i++ {
		if err := cs.Record(ctx, c); err != nil {
			t.Fatalf("Record #%d: %v", i+1, err)
		}
	}

	all, err := cs.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert created duplicates: %d rows", len(all))
	}
	got := all[0]
	if got.TimesSeen != 3 {
		t.Errorf("TimesSeen = %d, want 3", got.TimesSeen)
	}
	// 0.5 + 0.1 + 0.1 from the two reinforcements.
	if got.Confidence < 0.69 || got.Confidence > 0.71 {
		t.Errorf("Confidence = %v, want ~0.7", got.Confidence)
	}
}

func TestCandidateUpsertUpdatesDisposition(t *testing.T) {
	cs := newTestCandidateStore(t)
	ctx := context.Background()

	c := Candidate{
		RuleID:      "learned-darshan-11223344",
		Observation: "darshan profile suggests small writes",
		Disposition: DispositionRejected,
		Reason:      "no feedback tier",
	}
	if err := cs.Record(ctx, c); err != nil {
		t.Fatalf("Record: %v", err)
	}

	c.Disposition = DispositionAccepted
	c.Reason = ""
	if err := cs.Record(ctx, c); err != nil {
		t.Fatalf("second Record: %v", err)
	}

	all, err := cs.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 row, got %d", len(all))
	}
	if all[0].Disposition != DispositionAccepted {
		t.Errorf("Disposition = %q, want %q", all[0].Disposition, DispositionAccepted)
	}
}

func TestCandidateRejectsBadDisposition(t *testing.T) {
	cs := newTestCandidateStore(t)

	err := cs.Record(context.Background(), Candidate{
		RuleID:      "learned-x-00000000",
		Observation: "whatever",
		Disposition: "maybe",
	})
	if err == nil {
		t.Fatal("expected error for unknown disposition")
	}
}

func TestCandidateDefaultConfidence(t *testing.T) {
	cs := newTestCandidateStore(t)
	ctx := context.Background()

	err := cs.Record(ctx, Candidate{
		RuleID:      "learned-y-99999999",
		Observation: "obs",
		Disposition: DispositionAccepted,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	all, err := cs.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if all[0].Confidence != 0.5 {
		t.Errorf("default Confidence = %v, want 0.5", all[0].Confidence)
	}
}

func TestCandidateStats(t *testing.T) {
	cs := newTestCandidateStore(t)
	ctx := context.Background()

	for _, c := range []Candidate{
		{RuleID: "learned-a-1", Observation: "a", Disposition: DispositionAccepted},
		{RuleID: "learned-b-2", Observation: "b", Disposition: DispositionAccepted},
		{RuleID: "learned-c-3", Observation: "c", Disposition: DispositionRejected, Reason: "collision"},
	} {
		if err := cs.Record(ctx, c); err != nil {
			t.Fatalf("Record %s: %v", c.RuleID, err)
		}
	}

	stats, err := cs.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats["total"] != 3 {
		t.Errorf("total = %v, want 3", stats["total"])
	}
	if stats["accepted"] != 2 {
		t.Errorf("accepted = %v, want 2", stats["accepted"])
	}
	if stats["rejected"] != 1 {
		t.Errorf("rejected = %v, want 1", stats["rejected"])
	}
}
