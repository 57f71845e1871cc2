package harness

import "time"

// Status classifies the outcome of one test run.
type Status string

const (
	// StatusPassed means the test command exited 0.
	StatusPassed Status = "passed"
	// StatusFailed means the test command ran and exited non-zero.
	StatusFailed Status = "failed"
	// StatusTimedOut means the run exceeded its wall-clock bound.
	// Treated by the loop as failing-but-informative, not a crash.
	StatusTimedOut Status = "timed-out"
	// StatusExecError means the command could not be started at all.
	StatusExecError Status = "execution-error"
)

// Case is one test extracted from the suite's output.
type Case struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Output string `json:"output,omitempty"`
}

// TestResult is the immutable outcome of running a project's test
// command against one snapshot.
type TestResult struct {
	Status    Status        `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Cases     []Case        `json:"cases,omitempty"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Passed reports whether the whole suite passed.
func (r *TestResult) Passed() bool {
	return r.Status == StatusPassed
}

// FailingCases returns the names of extracted failing tests.
func (r *TestResult) FailingCases() []string {
	var names []string
	for _, c := range r.Cases {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}

// Combined returns stdout and stderr concatenated for digests.
func (r *TestResult) Combined() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}
