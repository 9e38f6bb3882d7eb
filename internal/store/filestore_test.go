package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"slurmsage/internal/rules"
	"slurmsage/internal/types"
)

func testRule(id string) rules.Rule {
	return rules.Rule{
		ID:              id,
		Description:     "test rule " + id,
		OwningStage:     "engine",
		SeverityDefault: types.SeverityWarning,
		Category:        "lustre",
		Trigger: rules.Condition{
			Op:    rules.OpToolsAny,
			Tools: []string{"bwa"},
		},
		Feedback: map[types.Tier]rules.Feedback{
			types.TierMedium: {Title: "Title " + id, Message: "Message " + id},
		},
	}
}

func TestLoadMissingFile(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "rules.yaml"))

	got, err := fs.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil rules for missing file, got %d", len(got))
	}

	version, err := fs.Version()
	if err != nil {
		t.Fatalf("Version on missing file: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 for missing file, got %d", version)
	}
}

func TestEnsureSeedsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	fs := NewFileStore(path)

	if err := fs.Ensure(rules.BaseRules()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	got, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(rules.BaseRules()) {
		t.Fatalf("expected %d seeded rules, got %d", len(rules.BaseRules()), len(got))
	}

	// Append something, then Ensure again: the store must not be re-seeded.
	if err := fs.Append(testRule("extra-rule")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := fs.Ensure(rules.BaseRules()); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}

	got, err = fs.Load()
	if err != nil {
		t.Fatalf("Load after second Ensure: %v", err)
	}
	if len(got) != len(rules.BaseRules())+1 {
		t.Errorf("second Ensure clobbered the store: %d rules", len(got))
	}
}

func TestEnsureRejectsInvalidSeed(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "rules.yaml"))

	bad := testRule("Bad ID With Spaces")
	if err := fs.Ensure([]rules.Rule{bad}); err == nil {
		t.Fatal("expected error seeding invalid rule")
	}
}

func TestAppendAndVersion(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "rules.yaml"))
	if err := fs.Ensure(rules.BaseRules()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	v1, err := fs.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}

	if err := fs.Append(testRule("learned-striping-aa11bb22")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	v2, err := fs.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v2 != v1+1 {
		t.Errorf("version after append = %d, want %d", v2, v1+1)
	}

	got, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	found := false
	for _, r := range got {
		if r.ID == "learned-striping-aa11bb22" {
			found = true
		}
	}
	if !found {
		t.Error("appended rule not present after reload")
	}
}

func TestAppendCollision(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "rules.yaml"))
	if err := fs.Ensure(rules.BaseRules()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	err := fs.Append(testRule(rules.RuleMissingStriping))
	if err == nil {
		t.Fatal("expected collision error")
	}
	if !errors.Is(err, ErrRuleCollision) {
		t.Errorf("error = %v, want ErrRuleCollision", err)
	}
	if !strings.Contains(err.Error(), rules.RuleMissingStriping) {
		t.Errorf("collision error should name the rule id, got %q", err)
	}

	got, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(rules.BaseRules()) {
		t.Errorf("colliding append changed the store: %d rules", len(got))
	}
}

func TestAppendRejectsInvalidRule(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "rules.yaml"))

	bad := testRule("no-feedback-rule")
	bad.Feedback = nil
	err := fs.Append(bad)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, rules.ErrRuleInvalid) {
		t.Errorf("error = %v, want ErrRuleInvalid", err)
	}
}

func TestLoadSnapshotIsolation(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "rules.yaml"))
	if err := fs.Ensure(rules.BaseRules()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	snapshot, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	before := len(snapshot)

	if err := fs.Append(testRule("appended-after-snapshot")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if len(snapshot) != before {
		t.Errorf("snapshot grew after append: %d -> %d", before, len(snapshot))
	}

	fresh, err := fs.Load()
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if len(fresh) != before+1 {
		t.Errorf("fresh load = %d rules, want %d", len(fresh), before+1)
	}
}

func TestConcurrentAppends(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "rules.yaml"))
	if err := fs.Ensure(nil); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fs.Append(testRule(fmt.Sprintf("concurrent-rule-%d", i)))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("writer %d: %v", i, err)
		}
	}

	got, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != writers {
		t.Errorf("expected %d rules after concurrent appends, got %d", writers, len(got))
	}
}

func TestConcurrentCollision(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "rules.yaml"))
	if err := fs.Ensure(nil); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	const writers = 4
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fs.Append(testRule("same-rule-id"))
		}(i)
	}
	wg.Wait()

	wins, collisions := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRuleCollision):
			collisions++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
	if collisions != writers-1 {
		t.Errorf("expected %d collisions, got %d", writers-1, collisions)
	}

	got, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("store holds %d rules, want 1", len(got))
	}
}

func TestBackupOnAppend(t *testing.T) {
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")

	fs := NewFileStore(filepath.Join(dir, "rules.yaml"))
	fs.EnableBackups(backupDir)

	if err := fs.Ensure(rules.BaseRules()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := fs.Append(testRule("backed-up-rule")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("read backup dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no backup written")
	}
	if !strings.HasPrefix(entries[0].Name(), "rules-v") {
		t.Errorf("backup name %q missing version prefix", entries[0].Name())
	}
}
