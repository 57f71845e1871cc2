package patch

import (
	"strings"
)

// Envelope markers understood by ParseEnvelope. The generation
// service is instructed to wrap its edits in this format:
//
//	*** Begin Patch
//	*** Add File: rel/path
//	+full file content, one + per line
//	*** Update File: rel/path
//	*** Move to: new/rel/path
//	@@ optional anchor
//	 context line
//	-removed line
//	+added line
//	*** Delete File: rel/path
//	*** End Patch
const (
	markBegin  = "*** Begin Patch"
	markEnd    = "*** End Patch"
	markAdd    = "*** Add File: "
	markUpdate = "*** Update File: "
	markDelete = "*** Delete File: "
	markMove   = "*** Move to: "
	markEOF    = "*** End of File"
	hunkHeader = "@@"
)

// IsEnvelope reports whether raw looks like an envelope patch body.
func IsEnvelope(raw string) bool {
	return strings.Contains(raw, markBegin)
}

// ParseEnvelope parses an envelope patch body into a PatchSet.
// Structural problems (no markers, bodies outside a file section,
// unterminated envelope) are reported as ValidationError so the
// loop can feed them back instead of crashing.
func ParseEnvelope(raw string) (*PatchSet, error) {
	lines := strings.Split(raw, "\n")

	begin := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == markBegin {
			begin = i
			break
		}
	}
	if begin < 0 {
		return nil, &ValidationError{Reason: "missing *** Begin Patch marker"}
	}

	ps := &PatchSet{}
	var cur *Op
	var curHunk *Hunk
	terminated := false

	flushHunk := func() {
		if cur != nil && curHunk != nil && len(curHunk.Lines) > 0 {
			cur.Hunks = append(cur.Hunks, *curHunk)
		}
		curHunk = nil
	}
	flushOp := func() {
		flushHunk()
		if cur != nil {
			if cur.Kind == OpCreate {
				cur.Content = []byte(joinLines(append(cur.addLines(), "")))
				cur.Hunks = nil
			}
			ps.Ops = append(ps.Ops, *cur)
		}
		cur = nil
	}

	for _, l := range lines[begin+1:] {
		trimmed := strings.TrimRight(l, "\r")
		switch {
		case strings.TrimSpace(trimmed) == markEnd:
			flushOp()
			terminated = true

		case strings.HasPrefix(trimmed, markAdd):
			flushOp()
			cur = &Op{Kind: OpCreate, Path: strings.TrimSpace(strings.TrimPrefix(trimmed, markAdd))}
			curHunk = &Hunk{}

		case strings.HasPrefix(trimmed, markUpdate):
			flushOp()
			cur = &Op{Kind: OpModify, Path: strings.TrimSpace(strings.TrimPrefix(trimmed, markUpdate))}

		case strings.HasPrefix(trimmed, markDelete):
			flushOp()
			cur = &Op{Kind: OpDelete, Path: strings.TrimSpace(strings.TrimPrefix(trimmed, markDelete))}

		case strings.HasPrefix(trimmed, markMove):
			if cur == nil || cur.Kind != OpModify {
				return nil, &ValidationError{Reason: "*** Move to: outside an update section"}
			}
			cur.Kind = OpRename
			cur.NewPath = strings.TrimSpace(strings.TrimPrefix(trimmed, markMove))

		case strings.TrimSpace(trimmed) == markEOF:
			flushHunk()

		case strings.HasPrefix(trimmed, hunkHeader):
			if cur == nil {
				return nil, &ValidationError{Reason: "hunk header outside a file section"}
			}
			flushHunk()
			curHunk = &Hunk{Header: strings.TrimSpace(strings.TrimPrefix(trimmed, hunkHeader))}

		default:
			if terminated {
				continue
			}
			if cur == nil {
				if strings.TrimSpace(trimmed) == "" {
					continue
				}
				return nil, &ValidationError{Reason: "patch body outside a file section"}
			}
			if curHunk == nil {
				curHunk = &Hunk{}
			}
			curHunk.Lines = append(curHunk.Lines, classifyLine(trimmed))
		}
		if terminated {
			break
		}
	}

	if !terminated {
		flushOp()
	}
	return ps, nil
}

func classifyLine(l string) HunkLine {
	switch {
	case strings.HasPrefix(l, "+"):
		return HunkLine{Kind: LineAdd, Text: l[1:]}
	case strings.HasPrefix(l, "-"):
		return HunkLine{Kind: LineDelete, Text: l[1:]}
	case strings.HasPrefix(l, " "):
		return HunkLine{Kind: LineContext, Text: l[1:]}
	default:
		// Models routinely drop the leading space on context lines.
		return HunkLine{Kind: LineContext, Text: l}
	}
}

// addLines collects the added lines of a pending create section.
func (op *Op) addLines() []string {
	var out []string
	for _, h := range op.Hunks {
		for _, l := range h.Lines {
			if l.Kind == LineAdd {
				out = append(out, l.Text)
			}
		}
	}
	return out
}
