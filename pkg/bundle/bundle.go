// Package bundle holds the files of one generated case.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"foamagent/pkg/proto"
)

// ExecutableMode is the permission given to run scripts.
const ExecutableMode os.FileMode = 0o755

// CaseBundle maps case-relative paths to content. Paths keep their first
// commit order so iteration is deterministic.
type CaseBundle struct {
	mu    sync.RWMutex
	order []string
	files map[string]string
}

// New returns an empty bundle.
func New() *CaseBundle {
	return &CaseBundle{files: make(map[string]string)}
}

// FromFiles builds a bundle from a map, committing paths in sorted order.
func FromFiles(files map[string]string) *CaseBundle {
	b := New()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		b.order = append(b.order, p)
		b.files[p] = files[p]
	}
	return b
}

// ValidatePath rejects absolute paths and paths escaping the case directory.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q must be relative", p)
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	if clean != p || clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return fmt.Errorf("path %q is not a clean case-relative path", p)
	}
	return nil
}

// Commit stores content for path, replacing earlier content.
func (b *CaseBundle) Commit(p, content string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[p]; !ok {
		b.order = append(b.order, p)
	}
	b.files[p] = content
	return nil
}

// Get returns the content for path.
func (b *CaseBundle) Get(p string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.files[p]
	return c, ok
}

// Has reports whether path has been committed.
func (b *CaseBundle) Has(p string) bool {
	_, ok := b.Get(p)
	return ok
}

// Len returns the number of files.
func (b *CaseBundle) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Paths returns the committed paths in commit order.
func (b *CaseBundle) Paths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// Files returns a copy of the content map.
func (b *CaseBundle) Files() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.files))
	for k, v := range b.files {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy.
func (b *CaseBundle) Clone() *CaseBundle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c := New()
	c.order = append(c.order, b.order...)
	for k, v := range b.files {
		c.files[k] = v
	}
	return c
}

// Missing returns the plan paths not yet committed, in plan order. A bundle
// is executable only when this is empty.
func (b *CaseBundle) Missing(plan *proto.GenerationPlan) []string {
	var out []string
	for _, p := range plan.Paths() {
		if !b.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Snapshot is an immutable copy of the bundle tagged with an id.
type Snapshot struct {
	ID    string
	Files map[string]string
}

// Snapshot copies the current contents.
func (b *CaseBundle) Snapshot() Snapshot {
	return Snapshot{ID: uuid.NewString(), Files: b.Files()}
}

// Materialize writes every file below dir. Allrun and other scripts named
// Allrun* become executable.
func (b *CaseBundle) Materialize(dir string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.order {
		target := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
		mode := os.FileMode(0o644)
		if strings.HasPrefix(filepath.Base(p), proto.PathAllrun) {
			mode = ExecutableMode
		}
		if err := os.WriteFile(target, []byte(b.files[p]), mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
		// WriteFile keeps the mode of an existing file.
		if err := os.Chmod(target, mode); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", p, err)
		}
	}
	return nil
}
