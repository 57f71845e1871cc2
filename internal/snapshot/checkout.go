package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// skipNames are directory entries never captured into a snapshot:
// VCS metadata, caches and build artifacts only add noise to the
// generation context and must not be patched.
var skipNames = map[string]bool{
	".git":          true,
	".protoloop":    true,
	"__pycache__":   true,
	"node_modules":  true,
	"target":        true,
	"build":         true,
	"dist":          true,
	".pytest_cache": true,
	".mypy_cache":   true,
	".venv":         true,
	"bin":           true,
}

// maxFileBytes caps the size of a single captured file.
const maxFileBytes = 1 << 20 // 1MB

// Load reads a project directory into a file tree suitable for
// Store.Create. Paths are slash-separated and root-relative.
func Load(root string) (map[string][]byte, error) {
	tree := make(map[string][]byte)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != root && (skipNames[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(name, ".pyc") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxFileBytes {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load project tree: %w", err)
	}
	return tree, nil
}

// Checkout materializes the snapshot under dir, creating parent
// directories as needed. Existing files are overwritten; files not
// in the snapshot are left alone (see Sync for pruning).
func (s *Snapshot) Checkout(dir string) error {
	for _, p := range s.Paths() {
		content, _ := s.Read(p)
		target := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
		if err := os.WriteFile(target, content, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
	}
	return nil
}

// Sync checks out final under dir and removes files that existed in
// base but were deleted along the way. Used when persisting a
// session's last good snapshot back into the real project.
func Sync(dir string, base, final *Snapshot) error {
	if err := final.Checkout(dir); err != nil {
		return err
	}
	if base == nil {
		return nil
	}
	for _, p := range base.Paths() {
		if _, kept := final.Read(p); kept {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
