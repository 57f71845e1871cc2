package patch

import (
	"fmt"
	"strings"
)

// Conflict reasons reported when a patch set cannot be applied to
// a given file tree.
const (
	ReasonPathNotFound    = "path-not-found"
	ReasonPathExists      = "path-exists"
	ReasonContextMismatch = "context-mismatch"
)

// Conflict describes one operation that could not be applied.
type Conflict struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (c Conflict) String() string {
	if c.Detail == "" {
		return fmt.Sprintf("%s: %s", c.Path, c.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", c.Path, c.Reason, c.Detail)
}

// Apply computes the tree that results from applying ps to files.
// The input map and its contents are never mutated. Application is
// all-or-nothing: if any operation conflicts, the returned tree is
// nil and every conflict found is reported.
func Apply(files map[string][]byte, ps *PatchSet) (map[string][]byte, []Conflict) {
	next := make(map[string][]byte, len(files)+len(ps.Ops))
	for p, content := range files {
		next[p] = content
	}

	var conflicts []Conflict
	for _, op := range ps.Ops {
		if c := applyOp(next, op); c != nil {
			conflicts = append(conflicts, *c)
		}
	}
	if len(conflicts) > 0 {
		return nil, conflicts
	}
	return next, nil
}

func applyOp(tree map[string][]byte, op Op) *Conflict {
	switch op.Kind {
	case OpCreate:
		if _, exists := tree[op.Path]; exists && !op.Overwrite {
			return &Conflict{Path: op.Path, Reason: ReasonPathExists}
		}
		tree[op.Path] = op.Content

	case OpDelete:
		if _, exists := tree[op.Path]; !exists {
			return &Conflict{Path: op.Path, Reason: ReasonPathNotFound}
		}
		delete(tree, op.Path)

	case OpModify:
		current, exists := tree[op.Path]
		if !exists {
			return &Conflict{Path: op.Path, Reason: ReasonPathNotFound}
		}
		updated, c := editContent(op.Path, current, op)
		if c != nil {
			return c
		}
		tree[op.Path] = updated

	case OpRename:
		current, exists := tree[op.Path]
		if !exists {
			return &Conflict{Path: op.Path, Reason: ReasonPathNotFound}
		}
		if _, taken := tree[op.NewPath]; taken {
			return &Conflict{Path: op.NewPath, Reason: ReasonPathExists}
		}
		updated := current
		if len(op.Hunks) > 0 || op.Content != nil {
			u, c := editContent(op.Path, current, op)
			if c != nil {
				return c
			}
			updated = u
		}
		delete(tree, op.Path)
		tree[op.NewPath] = updated

	default:
		return &Conflict{Path: op.Path, Reason: ReasonContextMismatch, Detail: fmt.Sprintf("unknown operation %q", op.Kind)}
	}
	return nil
}

// editContent produces the edited file body for a modify or rename
// operation. Full-content ops replace the body wholesale; hunk ops
// are located by context matching.
func editContent(path string, current []byte, op Op) ([]byte, *Conflict) {
	if op.Content != nil {
		return op.Content, nil
	}
	lines := splitLines(string(current))
	offset := 0
	for i, h := range op.Hunks {
		var c *Conflict
		lines, offset, c = applyHunk(path, lines, h, offset)
		if c != nil {
			c.Detail = fmt.Sprintf("hunk %d of %d: %s", i+1, len(op.Hunks), c.Detail)
			return nil, c
		}
	}
	return []byte(joinLines(lines)), nil
}

// applyHunk locates the hunk's context/deletion lines in the file,
// starting at offset, and splices in the replacement. Hunks with an
// empty match (pure additions against an empty file) append at the
// current offset. The returned offset points just past the edit so
// later hunks in the same op only match forward.
func applyHunk(path string, lines []string, h Hunk, offset int) ([]string, int, *Conflict) {
	var match, repl []string
	for _, l := range h.Lines {
		switch l.Kind {
		case LineContext:
			match = append(match, l.Text)
			repl = append(repl, l.Text)
		case LineDelete:
			match = append(match, l.Text)
		case LineAdd:
			repl = append(repl, l.Text)
		}
	}

	start := offset
	if h.Header != "" {
		anchor := findLine(lines, strings.TrimSpace(h.Header), offset)
		if anchor >= 0 {
			start = anchor
		}
	}

	if len(match) == 0 {
		// Pure insertion: only legal against an effectively empty file,
		// otherwise there is no way to place it deterministically.
		if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
			return append(repl, ""), len(repl), nil
		}
		return nil, 0, &Conflict{Path: path, Reason: ReasonContextMismatch, Detail: "insertion hunk without context against non-empty file"}
	}

	at := findSequence(lines, match, start)
	if at < 0 && start > 0 {
		// The anchor may sit after the region; retry from the top.
		at = findSequence(lines, match, 0)
	}
	if at < 0 {
		return nil, 0, &Conflict{Path: path, Reason: ReasonContextMismatch, Detail: fmt.Sprintf("context not found near %q", firstNonEmpty(match))}
	}

	out := make([]string, 0, len(lines)-len(match)+len(repl))
	out = append(out, lines[:at]...)
	out = append(out, repl...)
	out = append(out, lines[at+len(match):]...)
	return out, at + len(repl), nil
}

func findLine(lines []string, want string, from int) int {
	for i := from; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == want {
			return i
		}
	}
	return -1
}

func findSequence(lines, seq []string, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+len(seq) <= len(lines); i++ {
		ok := true
		for j := range seq {
			if lines[i+j] != seq[j] {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

func firstNonEmpty(lines []string) string {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}

// splitLines splits file content into lines without their newline
// terminators. A trailing newline does not produce a phantom empty
// final line; joinLines restores it.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	trailing := strings.HasSuffix(s, "\n")
	if trailing {
		s = s[:len(s)-1]
	}
	lines := strings.Split(s, "\n")
	if trailing {
		lines = append(lines, "")
	}
	return lines
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
