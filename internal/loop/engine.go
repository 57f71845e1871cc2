package loop

import (
	"strings"

	"protoloop/internal/patch"
	"protoloop/internal/snapshot"
)

// PatchEngine translates raw generation output into a validated
// PatchSet and derives the next snapshot. It never retries: a
// conflict goes back to the controller, which decides whether to
// re-prompt with the conflict detail or give up.
type PatchEngine struct {
	store        *snapshot.Store
	maxEditBytes int
}

// NewPatchEngine creates a patch engine over the given store.
// maxEditBytes bounds the total edit size of one patch set
// (0 disables the bound).
func NewPatchEngine(store *snapshot.Store, maxEditBytes int) *PatchEngine {
	return &PatchEngine{store: store, maxEditBytes: maxEditBytes}
}

// Translate parses a raw patch body (envelope or unified diff) and
// validates it. Parse and validation failures come back as
// *patch.ValidationError.
func (e *PatchEngine) Translate(body string) (*patch.PatchSet, error) {
	var (
		ps  *patch.PatchSet
		err error
	)
	if patch.IsEnvelope(body) {
		ps, err = patch.ParseEnvelope(body)
	} else if strings.Contains(body, "---") || strings.Contains(body, "diff --git") {
		ps, err = patch.ParseUnified(body)
	} else {
		return nil, &patch.ValidationError{Reason: "patch body is neither an envelope nor a unified diff"}
	}
	if err != nil {
		return nil, err
	}
	if err := ps.Validate(e.maxEditBytes); err != nil {
		return nil, err
	}
	return ps, nil
}

// Apply derives a new snapshot from base by applying ps. The
// result is either Applied or a conflict report; base is never
// touched.
func (e *PatchEngine) Apply(base *snapshot.Snapshot, ps *patch.PatchSet) *snapshot.ApplyResult {
	return e.store.Derive(base, ps)
}
