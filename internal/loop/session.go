package loop

import (
	"time"

	"protoloop/internal/generate"
	"protoloop/internal/harness"
	"protoloop/internal/patch"
	"protoloop/internal/snapshot"
)

// Apply status values recorded per iteration.
const (
	ApplyApplied    = "applied"
	ApplyConflict   = "conflict"
	ApplyValidation = "validation-error"
	ApplySkipped    = "skipped"
)

// IterationRecord captures one generate/apply/test round. Records
// are append-only: together they form the session transcript and
// are never rewritten.
type IterationRecord struct {
	Iteration    int                 `json:"iteration"`
	ProposalKind generate.Kind       `json:"proposal_kind"`
	Rationale    string              `json:"rationale,omitempty"`
	PatchSet     *patch.PatchSet     `json:"-"`
	ApplyStatus  string              `json:"apply_status"`
	Conflicts    []patch.Conflict    `json:"conflicts,omitempty"`
	Validation   string              `json:"validation,omitempty"`
	ShellCommand string              `json:"shell_command,omitempty"`
	ShellOutput  string              `json:"shell_output,omitempty"`
	Test         *harness.TestResult `json:"test,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Session is one prototype run: a spec, a current snapshot, an
// iteration budget and the growing transcript. Only the iteration
// controller mutates it, and only between suspension points.
type Session struct {
	ID        string
	Spec      string
	Dir       string
	Budget    int
	State     State
	Iteration int
	Initial   *snapshot.Snapshot
	Current   *snapshot.Snapshot
	Records   []*IterationRecord
	StartedAt time.Time
}

// lastRecord returns the most recent iteration record, or nil.
func (s *Session) lastRecord() *IterationRecord {
	if len(s.Records) == 0 {
		return nil
	}
	return s.Records[len(s.Records)-1]
}

// Result is what a finished session hands back to the caller: the
// terminal status, the last good snapshot and the full transcript.
// Partial progress survives failure.
type Result struct {
	SessionID string
	Status    State
	Iteration int
	Snapshot  *snapshot.Snapshot
	Records   []*IterationRecord
	Err       error
}
