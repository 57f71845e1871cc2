package tests

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"protoloop/internal/database"
	"protoloop/internal/generate"
	"protoloop/internal/harness"
	"protoloop/internal/loop"
	"protoloop/internal/snapshot"
)

// TestPrototypeEndToEnd drives a full session against a real project
// directory: a scripted generator writes a script, the real harness
// runs it, and the fix lands on disk only at the end.
func TestPrototypeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "check.sh", "#!/bin/sh\ngrep -q ready status.txt\n")
	writeFile(t, dir, "status.txt", "pending\n")

	tree, err := snapshot.Load(dir)
	if err != nil {
		t.Fatalf("Failed to load project tree: %v", err)
	}

	// Round 1 patch flips the status file; round 2 never happens.
	patchBody := "*** Begin Patch\n" +
		"*** Update File: status.txt\n" +
		"-pending\n" +
		"+ready\n" +
		"*** End Patch"
	gen := generate.NewScriptedGenerator(
		&generate.Proposal{Kind: generate.KindPatch, Body: patchBody, Rationale: "mark ready"},
	)

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	mgr := loop.NewManager(gen, harness.NewRunner(), loop.Config{
		TestCommand: "sh check.sh",
		Budget:      5,
	})
	mgr.AttachDatabase(db)

	sess, tlog, err := mgr.NewSession("make check.sh pass", dir, tree)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	res, err := mgr.Run(context.Background(), sess, tlog)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != loop.StateSucceeded {
		t.Fatalf("Expected succeeded, got %s (%v)", res.Status, res.Err)
	}
	if res.Iteration != 1 {
		t.Errorf("Expected 1 iteration, got %d", res.Iteration)
	}

	// The fix was synced back into the project directory.
	content, err := os.ReadFile(filepath.Join(dir, "status.txt"))
	if err != nil {
		t.Fatalf("Failed to read project file: %v", err)
	}
	if string(content) != "ready\n" {
		t.Errorf("Final snapshot not synced: %q", content)
	}

	// Session and transcript are persisted.
	row, err := database.NewSessionDB(db).GetSession(sess.ID)
	if err != nil {
		t.Fatalf("Failed to read session row: %v", err)
	}
	if row.Status != string(loop.StateSucceeded) {
		t.Errorf("Persisted status mismatch: %s", row.Status)
	}
	if row.SnapshotHash != res.Snapshot.Hash() {
		t.Error("Persisted snapshot hash mismatch")
	}

	n, err := database.NewTranscriptDB(db).CountEvents(sess.ID)
	if err != nil {
		t.Fatalf("Failed to count events: %v", err)
	}
	if n != 5 {
		t.Errorf("Expected 5 events (generating through succeeded), got %d", n)
	}
}

// TestPrototypeFailureKeepsProjectIntact verifies that a session
// that burns its budget leaves the project directory as it found it.
func TestPrototypeFailureKeepsProjectIntact(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.txt", "original\n")

	tree, err := snapshot.Load(dir)
	if err != nil {
		t.Fatalf("Failed to load project tree: %v", err)
	}

	gen := generate.NewScriptedGenerator(
		&generate.Proposal{Kind: generate.KindMalformed, Reason: "nonsense"},
	)
	mgr := loop.NewManager(gen, harness.NewRunner(), loop.Config{
		TestCommand: "false",
		Budget:      2,
	})

	sess, tlog, err := mgr.NewSession("impossible goal", dir, tree)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	res, err := mgr.Run(context.Background(), sess, tlog)
	if !errors.Is(err, loop.ErrBudgetExhausted) {
		t.Fatalf("Expected budget exhaustion, got %v", err)
	}
	if res.Status != loop.StateFailed {
		t.Errorf("Expected failed, got %s", res.Status)
	}

	content, err := os.ReadFile(filepath.Join(dir, "main.txt"))
	if err != nil {
		t.Fatalf("Failed to read project file: %v", err)
	}
	if string(content) != "original\n" {
		t.Errorf("Project mutated by a failed session: %q", content)
	}
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	target := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(target, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", rel, err)
	}
}
