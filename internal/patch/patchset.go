package patch

import (
	"fmt"
	"path"
	"strings"
)

// OpKind identifies the kind of file operation in a patch set.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpModify OpKind = "modify"
	OpDelete OpKind = "delete"
	OpRename OpKind = "rename"
)

// HunkLineKind identifies the role of a line inside a hunk.
type HunkLineKind int

const (
	LineContext HunkLineKind = iota
	LineDelete
	LineAdd
)

// HunkLine is one line of a diff hunk.
type HunkLine struct {
	Kind HunkLineKind
	Text string
}

// Hunk is one contiguous edit region of a modify operation.
// Header is the optional "@@ ..." anchor naming the enclosing
// function or class; it narrows where the hunk is searched for.
type Hunk struct {
	Header string
	Lines  []HunkLine
}

// Op is a single file operation. Create carries full Content.
// Modify carries either full Content (whole-file replacement) or
// Hunks (context-matched edits). Rename carries NewPath and may
// carry Hunks applied after the move.
type Op struct {
	Kind      OpKind
	Path      string
	NewPath   string
	Content   []byte
	Hunks     []Hunk
	Overwrite bool
}

// PatchSet is one ordered, atomically-applied batch of file edits.
type PatchSet struct {
	Ops []Op
}

// Empty reports whether the set contains no operations.
func (ps *PatchSet) Empty() bool {
	return ps == nil || len(ps.Ops) == 0
}

// TotalEditBytes returns the total size of all content and hunk
// lines in the set, used to guard against runaway generation.
func (ps *PatchSet) TotalEditBytes() int {
	total := 0
	for _, op := range ps.Ops {
		total += len(op.Content)
		for _, h := range op.Hunks {
			for _, l := range h.Lines {
				total += len(l.Text) + 1
			}
		}
	}
	return total
}

// ValidationError reports a patch set that is rejected before any
// derivation is attempted. It is recoverable: the loop feeds it
// back to the generation service as if it were a conflict.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid patch set: %s", e.Reason)
}

// Validate checks structural rules that must hold before a set is
// handed to the snapshot store:
//   - the set must not be empty
//   - every path must be project-relative and must not escape the root
//   - no two operations may target the same path
//   - a rename and a modify of the same origin path cannot coexist
//   - the total edit size must not exceed maxEditBytes (0 disables)
func (ps *PatchSet) Validate(maxEditBytes int) error {
	if ps.Empty() {
		return &ValidationError{Reason: "empty patch set"}
	}

	seen := make(map[string]OpKind, len(ps.Ops))
	for _, op := range ps.Ops {
		for _, p := range []string{op.Path, op.NewPath} {
			if p == "" {
				continue
			}
			if err := checkRelativePath(p); err != nil {
				return err
			}
		}
		if op.Kind == OpRename && op.NewPath == "" {
			return &ValidationError{Reason: fmt.Sprintf("rename of %s has no destination", op.Path)}
		}

		if prev, dup := seen[op.Path]; dup {
			if (prev == OpRename && op.Kind == OpModify) || (prev == OpModify && op.Kind == OpRename) {
				return &ValidationError{Reason: fmt.Sprintf("rename and modify both target %s", op.Path)}
			}
			return &ValidationError{Reason: fmt.Sprintf("duplicate operation for path %s", op.Path)}
		}
		seen[op.Path] = op.Kind

		// A rename destination occupies its path like any other
		// operation would.
		if op.Kind == OpRename {
			if _, dup := seen[op.NewPath]; dup {
				return &ValidationError{Reason: fmt.Sprintf("duplicate operation for path %s", op.NewPath)}
			}
			seen[op.NewPath] = op.Kind
		}
	}

	if maxEditBytes > 0 {
		if total := ps.TotalEditBytes(); total > maxEditBytes {
			return &ValidationError{Reason: fmt.Sprintf("patch set too large: %d bytes (limit %d)", total, maxEditBytes)}
		}
	}
	return nil
}

// checkRelativePath rejects absolute paths, drive-letter paths and
// parent traversals so a patch can never escape the project root.
func checkRelativePath(p string) error {
	if strings.HasPrefix(p, "/") || strings.Contains(p, ":") {
		return &ValidationError{Reason: fmt.Sprintf("absolute path not allowed: %s", p)}
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return &ValidationError{Reason: fmt.Sprintf("parent traversal not allowed: %s", p)}
	}
	if clean == "." || clean == "" {
		return &ValidationError{Reason: "empty path in operation"}
	}
	return nil
}
