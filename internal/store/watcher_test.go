package store

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"slurmsage/internal/rules"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStoreWatcherFiresOnAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	fs := NewFileStore(path)
	if err := fs.Ensure(rules.BaseRules()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	var fired atomic.Int32
	w, err := NewStoreWatcher(path, func(string) { fired.Add(1) })
	if err != nil {
		t.Fatalf("NewStoreWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := fs.Append(testRule("watched-rule")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("callback never fired; stats: %+v", w.Stats())
		case <-time.After(50 * time.Millisecond):
		}
	}

	if w.Stats().Events == 0 {
		t.Error("expected at least one recorded event")
	}
}

func TestStoreWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	var fired atomic.Int32
	w, err := NewStoreWatcher(path, func(string) { fired.Add(1) })
	if err != nil {
		t.Fatalf("NewStoreWatcher: %v", err)
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, []byte("unrelated"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	time.Sleep(time.Second)
	if n := fired.Load(); n != 0 {
		t.Errorf("callback fired %d times for unrelated file", n)
	}
	if w.Stats().Events != 0 {
		t.Errorf("recorded %d events for unrelated file", w.Stats().Events)
	}
}

func TestStoreWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	w, err := NewStoreWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewStoreWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	w.Stop()
}
