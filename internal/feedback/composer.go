package feedback

import (
	"fmt"
	"sort"
	"strings"

	"protoloop/internal/generate"
	"protoloop/internal/snapshot"
)

const (
	// defaultTreeBudget caps the file-tree digest embedded in the
	// system prompt.
	defaultTreeBudget = 120_000
	// defaultFeedbackBudget caps the previous-round digest embedded
	// in the user prompt, bounding context growth across rounds.
	defaultFeedbackBudget = 16_000

	truncationMarker = "\n...\n[TRUNCATED]\n...\n"
)

// RoundDigest summarizes the most recent iteration for the next
// generation request. Exactly one of Conflicts, Malformed or the
// test fields is populated.
type RoundDigest struct {
	Iteration    int
	Conflicts    string
	Malformed    string
	ShellCommand string
	TestStatus   string
	ExitCode     int
	FailingTests []string
	Output       string
}

// Input is everything the composer reads. It contains no clocks,
// counters or randomness: identical input must produce a
// byte-identical request so fixtures stay reproducible.
type Input struct {
	Spec        string
	TestCommand string
	Snapshot    *snapshot.Snapshot
	Last        *RoundDigest

	// TreeBudget and FeedbackBudget override the default size caps
	// when positive.
	TreeBudget     int
	FeedbackBudget int
}

// Compose builds the next generation request. Pure and
// deterministic over its input.
func Compose(in Input) generate.Request {
	treeBudget := in.TreeBudget
	if treeBudget <= 0 {
		treeBudget = defaultTreeBudget
	}
	feedbackBudget := in.FeedbackBudget
	if feedbackBudget <= 0 {
		feedbackBudget = defaultFeedbackBudget
	}

	return generate.Request{
		System: systemPrompt(in.TestCommand, truncate(TreeDigest(in.Snapshot), treeBudget)),
		User:   userPrompt(in.Spec, in.Last, feedbackBudget),
	}
}

func systemPrompt(testCommand, treeDigest string) string {
	var b strings.Builder
	b.WriteString("You are a coding agent that iteratively modifies a project until its test suite passes.\n\n")
	fmt.Fprintf(&b, "Test command: %s\n\n", testCommand)
	b.WriteString("Project files:\n")
	b.WriteString(treeDigest)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Respond with exactly one action per round via the apply_patch tool.\n")
	b.WriteString("- action=apply_patch needs a *** Begin Patch / *** End Patch body with the edits.\n")
	b.WriteString("- Patch context lines must match the EXACT current file content shown above.\n")
	b.WriteString("- Include 3+ lines of context per hunk when available; use @@ headers to anchor edits.\n")
	b.WriteString("- Paths must be project-relative. Never emit an empty patch.\n")
	b.WriteString("- action=shell runs one command inside the sandbox.\n")
	b.WriteString("- action=no_change declares the current state final.\n")
	b.WriteString("- Always aim to make the test command exit 0.\n")
	return b.String()
}

func userPrompt(spec string, last *RoundDigest, budget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal:\n%s\n", spec)

	if last == nil {
		return b.String()
	}

	fmt.Fprintf(&b, "\nPrevious iteration %d did not succeed.\n", last.Iteration)
	switch {
	case last.Conflicts != "":
		b.WriteString("Your last patch could not be applied. Conflicts:\n")
		b.WriteString(truncate(last.Conflicts, budget))
		b.WriteString("\nRe-read the current file content above and compose the patch against it.\n")
	case last.Malformed != "":
		fmt.Fprintf(&b, "Your last response was not usable: %s\n", last.Malformed)
		b.WriteString("Answer with exactly one action object as instructed.\n")
	default:
		if last.ShellCommand != "" {
			fmt.Fprintf(&b, "Shell command run: %s\n", last.ShellCommand)
		}
		fmt.Fprintf(&b, "Test run status: %s (exit code %d)\n", last.TestStatus, last.ExitCode)
		if len(last.FailingTests) > 0 {
			fmt.Fprintf(&b, "Failing tests: %s\n", strings.Join(last.FailingTests, ", "))
		}
		if last.Output != "" {
			b.WriteString("Test output:\n")
			b.WriteString(truncate(last.Output, budget))
			b.WriteString("\n")
		}
		b.WriteString("Read the errors above carefully and fix the specific failures they describe.\n")
	}
	return b.String()
}

// TreeDigest renders a snapshot as sorted "=== path ===" sections,
// the same shape the original context builder used.
func TreeDigest(snap *snapshot.Snapshot) string {
	if snap == nil || snap.Len() == 0 {
		return "(empty project)"
	}

	paths := snap.Paths()
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		content, _ := snap.Read(p)
		fmt.Fprintf(&b, "=== %s ===\n", p)
		b.Write(content)
		if len(content) == 0 || content[len(content)-1] != '\n' {
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncate keeps the head and tail of s within budget bytes,
// marking the elision. Small budgets degrade to a plain prefix.
func truncate(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	if budget <= len(truncationMarker)+2 {
		return s[:budget]
	}
	keep := (budget - len(truncationMarker)) / 2
	return s[:keep] + truncationMarker + s[len(s)-keep:]
}
