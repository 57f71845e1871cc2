package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"protoloop/internal/patch"
)

// Snapshot is an immutable view of a project file tree. Once issued
// by a Store it is never mutated; deriving a new snapshot always
// copies. Generation numbers increase monotonically per store.
type Snapshot struct {
	generation int
	files      map[string][]byte
	hash       string
}

// Generation returns the snapshot's monotonic generation number.
func (s *Snapshot) Generation() int { return s.generation }

// Hash returns the sha256 content hash of the whole tree.
func (s *Snapshot) Hash() string { return s.hash }

// Len returns the number of files in the tree.
func (s *Snapshot) Len() int { return len(s.files) }

// Paths returns all file paths in sorted order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Read returns a copy of the content of one file, so callers can
// never mutate the snapshot through the returned slice.
func (s *Snapshot) Read(path string) ([]byte, bool) {
	content, ok := s.files[path]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, true
}

// ApplyResult is the outcome of deriving a snapshot: either a new
// Applied snapshot or the list of conflicts that prevented it. A
// conflicted derive leaves every prior snapshot untouched.
type ApplyResult struct {
	Snapshot  *Snapshot
	Conflicts []patch.Conflict
}

// Applied reports whether the derivation produced a new snapshot.
func (r *ApplyResult) Applied() bool { return r.Snapshot != nil }

// ConflictSummary renders the conflicts as one line per path for
// feedback digests.
func (r *ApplyResult) ConflictSummary() string {
	if r.Applied() {
		return ""
	}
	out := ""
	for _, c := range r.Conflicts {
		out += c.String() + "\n"
	}
	return out
}

// Store issues and tracks snapshots for one project. All snapshots
// live in memory; nothing touches the filesystem until a caller
// checks a snapshot out explicitly.
type Store struct {
	mu      sync.Mutex
	nextGen int
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{}
}

// Create issues the initial snapshot from a file tree. The input
// map is copied; the caller keeps ownership of its version.
func (st *Store) Create(tree map[string][]byte) *Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.issue(tree)
}

// Derive computes the snapshot that results from applying ops to
// base. base and every previously issued snapshot remain valid and
// unchanged whatever the outcome; a conflict commits nothing.
func (st *Store) Derive(base *Snapshot, ops *patch.PatchSet) *ApplyResult {
	next, conflicts := patch.Apply(base.files, ops)
	if conflicts != nil {
		return &ApplyResult{Conflicts: conflicts}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return &ApplyResult{Snapshot: st.issue(next)}
}

// issue copies tree into a fresh snapshot. Callers hold st.mu.
func (st *Store) issue(tree map[string][]byte) *Snapshot {
	files := make(map[string][]byte, len(tree))
	for p, content := range tree {
		dup := make([]byte, len(content))
		copy(dup, content)
		files[p] = dup
	}
	st.nextGen++
	return &Snapshot{
		generation: st.nextGen,
		files:      files,
		hash:       TreeHash(files),
	}
}

// TreeHash computes a content-addressed hash over a file tree:
// sha256 of every path and body in sorted path order.
func TreeHash(files map[string][]byte) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		fmt.Fprintf(h, "%s\x00%d\x00", p, len(files[p]))
		h.Write(files[p])
	}
	return hex.EncodeToString(h.Sum(nil))
}
