package generate

import (
	"encoding/json"
	"strings"
)

// step mirrors the JSON action object the model is asked to emit,
// either as tool-call arguments or as plain content.
type step struct {
	Action    string `json:"action"`
	Rationale string `json:"rationale,omitempty"`
	Patch     string `json:"patch,omitempty"`
	Command   string `json:"command,omitempty"`
}

// noChangeSentinel is the phrase the model uses to declare the
// current snapshot final.
const noChangeSentinel = "NO_FURTHER_CHANGES"

// ParseResponse resolves a raw model reply into a Proposal. It
// accepts the structured action JSON, a bare patch envelope, a bare
// unified diff, or the no-change sentinel; everything else is
// classified as malformed, never an error.
func ParseResponse(raw string) *Proposal {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return &Proposal{Kind: KindMalformed, Reason: "empty response"}
	}

	var s step
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil && s.Action != "" {
		return resolveStep(s)
	}

	if strings.Contains(trimmed, noChangeSentinel) {
		return &Proposal{Kind: KindNoChange}
	}
	if strings.Contains(trimmed, "*** Begin Patch") {
		return &Proposal{Kind: KindPatch, Body: trimmed}
	}
	if looksLikeUnifiedDiff(trimmed) {
		return &Proposal{Kind: KindPatch, Body: trimmed}
	}
	return &Proposal{Kind: KindMalformed, Reason: "unrecognized response shape"}
}

func resolveStep(s step) *Proposal {
	switch s.Action {
	case "apply_patch":
		if strings.TrimSpace(s.Patch) == "" {
			return &Proposal{Kind: KindMalformed, Reason: "apply_patch action without a patch body", Rationale: s.Rationale}
		}
		return &Proposal{Kind: KindPatch, Body: s.Patch, Rationale: s.Rationale}
	case "shell":
		if strings.TrimSpace(s.Command) == "" {
			return &Proposal{Kind: KindMalformed, Reason: "shell action without a command", Rationale: s.Rationale}
		}
		return &Proposal{Kind: KindShell, Command: s.Command, Rationale: s.Rationale}
	case "no_change", "done":
		return &Proposal{Kind: KindNoChange, Rationale: s.Rationale}
	default:
		return &Proposal{Kind: KindMalformed, Reason: "unrecognized action " + s.Action, Rationale: s.Rationale}
	}
}

func looksLikeUnifiedDiff(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "diff --git ") {
			return true
		}
	}
	return false
}
