package harness

import (
	"context"
	"strings"
	"testing"
	"time"

	"protoloop/internal/snapshot"
)

func snapOf(t *testing.T, tree map[string][]byte) *snapshot.Snapshot {
	t.Helper()
	return snapshot.NewStore().Create(tree)
}

func TestRunPassing(t *testing.T) {
	snap := snapOf(t, map[string][]byte{"ok.txt": []byte("fine\n")})
	r := NewRunner()

	res, err := r.Run(context.Background(), snap, "true")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Passed() {
		t.Errorf("Expected pass, got %s (exit %d)", res.Status, res.ExitCode)
	}
}

func TestRunFailing(t *testing.T) {
	snap := snapOf(t, map[string][]byte{})
	r := NewRunner()

	res, err := r.Run(context.Background(), snap, "sh -c 'exit 3'")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("Expected failed, got %s", res.Status)
	}
	if res.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", res.ExitCode)
	}
}

func TestRunCapturesOutput(t *testing.T) {
	snap := snapOf(t, map[string][]byte{})
	r := NewRunner()

	res, err := r.Run(context.Background(), snap, "sh -c 'echo out; echo err >&2'")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(res.Stdout, "out") {
		t.Errorf("Stdout not captured: %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "err") {
		t.Errorf("Stderr not captured: %q", res.Stderr)
	}
}

func TestRunSeesSnapshotFiles(t *testing.T) {
	snap := snapOf(t, map[string][]byte{
		"data/value.txt": []byte("42\n"),
	})
	r := NewRunner()

	res, err := r.Run(context.Background(), snap, "cat data/value.txt")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("Expected pass, got %s: %s", res.Status, res.Stderr)
	}
	if !strings.Contains(res.Stdout, "42") {
		t.Errorf("Snapshot file not materialized: %q", res.Stdout)
	}
}

func TestRunTimeout(t *testing.T) {
	snap := snapOf(t, map[string][]byte{})
	r := NewRunner().WithTimeout(100 * time.Millisecond)

	start := time.Now()
	res, err := r.Run(context.Background(), snap, "sleep 5")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusTimedOut {
		t.Errorf("Expected timed-out, got %s", res.Status)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Timeout did not bound the run: %v", elapsed)
	}
}

func TestRunExecError(t *testing.T) {
	snap := snapOf(t, map[string][]byte{})
	r := NewRunner()

	res, err := r.Run(context.Background(), snap, "definitely-not-a-real-binary-xyz")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusExecError {
		t.Errorf("Expected execution-error, got %s", res.Status)
	}
	if res.ExitCode != -1 {
		t.Errorf("Expected exit code -1, got %d", res.ExitCode)
	}
}

func TestRunInvalidCommands(t *testing.T) {
	snap := snapOf(t, map[string][]byte{})
	r := NewRunner()

	for _, command := range []string{"", "   ", "echo hi\necho bye", "echo 'unterminated"} {
		res, err := r.Run(context.Background(), snap, command)
		if err != nil {
			t.Fatalf("Run failed for %q: %v", command, err)
		}
		if res.Status != StatusExecError {
			t.Errorf("Expected execution-error for %q, got %s", command, res.Status)
		}
	}
}

func TestRunOutputCap(t *testing.T) {
	snap := snapOf(t, map[string][]byte{})
	r := NewRunner().WithMaxOutputBytes(64)

	res, err := r.Run(context.Background(), snap, "sh -c 'yes x | head -n 1000'")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Stdout) > 64 {
		t.Errorf("Output not capped: %d bytes", len(res.Stdout))
	}
	if !res.Truncated {
		t.Error("Expected truncation flag")
	}
}

func TestFilterEnvironment(t *testing.T) {
	t.Setenv("PROTOLOOP_SECRET_TOKEN", "hunter2")
	snap := snapOf(t, map[string][]byte{})
	r := NewRunner()

	res, err := r.Run(context.Background(), snap, "env")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Contains(res.Stdout, "PROTOLOOP_SECRET_TOKEN") {
		t.Error("Secret leaked into the test environment")
	}
	if !strings.Contains(res.Stdout, "PATH=") {
		t.Error("Allow-listed PATH missing from environment")
	}
}
