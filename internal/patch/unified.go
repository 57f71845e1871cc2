package patch

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// ParseUnified converts a standard unified diff (optionally in
// git's multi-file form) into a PatchSet. Some models answer with
// plain diffs instead of the envelope format, so both are accepted
// at the same boundary.
func ParseUnified(raw string) (*PatchSet, error) {
	fds, err := diff.ParseMultiFileDiff([]byte(raw))
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("unparseable unified diff: %v", err)}
	}

	ps := &PatchSet{}
	for _, fd := range fds {
		op, err := fileDiffOp(fd)
		if err != nil {
			return nil, err
		}
		ps.Ops = append(ps.Ops, op)
	}
	return ps, nil
}

func fileDiffOp(fd *diff.FileDiff) (Op, error) {
	orig := stripDiffPrefix(fd.OrigName)
	next := stripDiffPrefix(fd.NewName)

	switch {
	case orig == devNull && next == devNull:
		return Op{}, &ValidationError{Reason: "file diff with no usable path"}

	case orig == devNull:
		content, err := addedContent(fd)
		if err != nil {
			return Op{}, err
		}
		return Op{Kind: OpCreate, Path: next, Content: content}, nil

	case next == devNull:
		return Op{Kind: OpDelete, Path: orig}, nil

	case orig != next:
		hunks, err := convertHunks(fd)
		if err != nil {
			return Op{}, err
		}
		return Op{Kind: OpRename, Path: orig, NewPath: next, Hunks: hunks}, nil

	default:
		hunks, err := convertHunks(fd)
		if err != nil {
			return Op{}, err
		}
		return Op{Kind: OpModify, Path: orig, Hunks: hunks}, nil
	}
}

func convertHunks(fd *diff.FileDiff) ([]Hunk, error) {
	var hunks []Hunk
	for _, dh := range fd.Hunks {
		h := Hunk{Header: strings.TrimSpace(dh.Section)}
		for _, l := range strings.Split(strings.TrimSuffix(string(dh.Body), "\n"), "\n") {
			if l == `\ No newline at end of file` {
				continue
			}
			h.Lines = append(h.Lines, classifyLine(l))
		}
		hunks = append(hunks, h)
	}
	return hunks, nil
}

// addedContent flattens a creation diff's hunks into file content.
func addedContent(fd *diff.FileDiff) ([]byte, error) {
	var lines []string
	for _, dh := range fd.Hunks {
		for _, l := range strings.Split(strings.TrimSuffix(string(dh.Body), "\n"), "\n") {
			if strings.HasPrefix(l, "+") {
				lines = append(lines, l[1:])
			}
		}
	}
	return []byte(joinLines(append(lines, ""))), nil
}

func stripDiffPrefix(name string) string {
	if name == devNull || name == "" {
		return devNull
	}
	for _, pre := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, pre) {
			return name[len(pre):]
		}
	}
	return name
}
