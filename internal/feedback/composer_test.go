package feedback

import (
	"strings"
	"testing"

	"protoloop/internal/snapshot"
)

func testSnapshot() *snapshot.Snapshot {
	return snapshot.NewStore().Create(map[string][]byte{
		"main.py": []byte("print('hi')\n"),
		"a/b.py":  []byte("x = 1\n"),
		"README":  []byte("hello\n"),
	})
}

func TestComposeDeterministic(t *testing.T) {
	in := Input{
		Spec:        "Make the tests pass",
		TestCommand: "pytest -q",
		Snapshot:    testSnapshot(),
		Last: &RoundDigest{
			Iteration:  2,
			TestStatus: "failed",
			ExitCode:   1,
			Output:     "AssertionError",
		},
	}

	r1 := Compose(in)
	r2 := Compose(in)
	if r1.System != r2.System || r1.User != r2.User {
		t.Error("Compose is not deterministic over identical input")
	}
}

func TestComposeSystemPrompt(t *testing.T) {
	req := Compose(Input{
		Spec:        "goal",
		TestCommand: "pytest -q",
		Snapshot:    testSnapshot(),
	})

	if !strings.Contains(req.System, "pytest -q") {
		t.Error("System prompt missing test command")
	}
	if !strings.Contains(req.System, "=== main.py ===") {
		t.Error("System prompt missing tree digest")
	}
	if !strings.Contains(req.System, "*** Begin Patch") {
		t.Error("System prompt missing patch format instructions")
	}
}

func TestComposeFirstRound(t *testing.T) {
	req := Compose(Input{Spec: "build the thing", Snapshot: testSnapshot()})

	if !strings.Contains(req.User, "build the thing") {
		t.Error("User prompt missing the goal")
	}
	if strings.Contains(req.User, "Previous iteration") {
		t.Error("First round should carry no previous-round feedback")
	}
}

func TestComposeConflictFeedback(t *testing.T) {
	req := Compose(Input{
		Spec:     "goal",
		Snapshot: testSnapshot(),
		Last: &RoundDigest{
			Iteration: 1,
			Conflicts: "main.py: context-mismatch (hunk 1 of 1)",
		},
	})

	if !strings.Contains(req.User, "could not be applied") {
		t.Error("Conflict feedback missing")
	}
	if !strings.Contains(req.User, "context-mismatch") {
		t.Error("Conflict detail missing")
	}
}

func TestComposeMalformedFeedback(t *testing.T) {
	req := Compose(Input{
		Spec:     "goal",
		Snapshot: testSnapshot(),
		Last:     &RoundDigest{Iteration: 1, Malformed: "empty response"},
	})

	if !strings.Contains(req.User, "was not usable") {
		t.Error("Malformed feedback missing")
	}
	if !strings.Contains(req.User, "empty response") {
		t.Error("Malformed reason missing")
	}
}

func TestComposeTestFeedback(t *testing.T) {
	req := Compose(Input{
		Spec:     "goal",
		Snapshot: testSnapshot(),
		Last: &RoundDigest{
			Iteration:    3,
			TestStatus:   "failed",
			ExitCode:     1,
			FailingTests: []string{"tests/test_a.py::test_one", "tests/test_a.py::test_two"},
			Output:       "E  AssertionError: expected 2",
		},
	})

	if !strings.Contains(req.User, "failed (exit code 1)") {
		t.Error("Test status missing")
	}
	if !strings.Contains(req.User, "test_one") || !strings.Contains(req.User, "test_two") {
		t.Error("Failing test names missing")
	}
	if !strings.Contains(req.User, "AssertionError") {
		t.Error("Test output missing")
	}
}

func TestTreeDigest(t *testing.T) {
	digest := TreeDigest(testSnapshot())

	// Sections appear in sorted path order.
	iMain := strings.Index(digest, "=== main.py ===")
	iB := strings.Index(digest, "=== a/b.py ===")
	iReadme := strings.Index(digest, "=== README ===")
	if iReadme < 0 || iB < 0 || iMain < 0 {
		t.Fatalf("Missing sections in digest:\n%s", digest)
	}
	if !(iReadme < iB && iB < iMain) {
		t.Error("Sections not in sorted path order")
	}
	if !strings.Contains(digest, "print('hi')") {
		t.Error("File content missing from digest")
	}

	if TreeDigest(nil) != "(empty project)" {
		t.Error("Nil snapshot should yield the empty placeholder")
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 500) + "MIDDLE" + strings.Repeat("z", 500)

	out := truncate(long, 200)
	if len(out) > 200 {
		t.Errorf("Truncated output too long: %d", len(out))
	}
	if !strings.Contains(out, "[TRUNCATED]") {
		t.Error("Truncation marker missing")
	}
	if !strings.HasPrefix(out, "aaa") || !strings.HasSuffix(out, "zzz") {
		t.Error("Head and tail not preserved")
	}
	if strings.Contains(out, "MIDDLE") {
		t.Error("Middle should be elided")
	}

	short := "short text"
	if truncate(short, 200) != short {
		t.Error("Within-budget text should pass through unchanged")
	}
}
