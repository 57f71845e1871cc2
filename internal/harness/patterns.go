package harness

import (
	"regexp"
	"strings"
)

// Output patterns for the test frameworks we can structure. When no
// pattern matches, the loop still works off the exit code and raw
// output; extraction only sharpens the feedback digest.
var (
	pytestVerbose = regexp.MustCompile(`^(\S+::\S+)\s+(PASSED|FAILED|ERROR)`)
	pytestSummary = regexp.MustCompile(`^(FAILED|ERROR)\s+(\S+::\S+)`)
	goTestLine    = regexp.MustCompile(`^--- (PASS|FAIL): (\S+)`)
)

// ExtractCases pulls structured (name, pass/fail) pairs out of raw
// test output. Supports pytest -v, pytest short summaries, and
// go test verbose output.
func ExtractCases(output string) []Case {
	var cases []Case
	seen := make(map[string]int)

	record := func(name string, passed bool) {
		if i, dup := seen[name]; dup {
			cases[i].Passed = passed
			return
		}
		seen[name] = len(cases)
		cases = append(cases, Case{Name: name, Passed: passed})
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if m := pytestVerbose.FindStringSubmatch(line); m != nil {
			record(m[1], m[2] == "PASSED")
			continue
		}
		if m := pytestSummary.FindStringSubmatch(line); m != nil {
			record(m[2], false)
			continue
		}
		if m := goTestLine.FindStringSubmatch(line); m != nil {
			record(m[2], m[1] == "PASS")
		}
	}
	return cases
}
