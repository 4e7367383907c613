// Package artifacts confines the agent's on-disk output to a designated
// root directory. Screenshots and session state files carry names built
// from page selectors and operator input, so every path is validated
// against the root before anything is written.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Dir is a validated artifact directory. All resolved paths are
// guaranteed to stay inside the root.
type Dir struct {
	root string
}

// New creates the directory if needed and resolves it to a canonical
// absolute path. Symlinks in the root itself are evaluated so later
// containment checks compare real paths.
func New(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact directory cannot be empty")
	}

	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact directory: %w", err)
	}
	if err := os.MkdirAll(absPath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate artifact directory symlinks: %w", err)
	}

	return &Dir{root: evalPath}, nil
}

// Root returns the canonical root path.
func (d *Dir) Root() string {
	return d.root
}

// Resolve validates name and returns its absolute path inside the root.
// Rejects empty names, null bytes, absolute names, and any name whose
// cleaned form escapes the root.
func (d *Dir) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("artifact name cannot be empty")
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("artifact name contains null byte")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("artifact name must be relative: %s", name)
	}

	path := filepath.Join(d.root, name)

	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve artifact path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path escapes directory: %s", name)
	}

	return path, nil
}

// Timestamped returns a path for "<prefix>_<YYYYMMDD_HHMMSS>.<ext>"
// inside the root, after validating the prefix.
func (d *Dir) Timestamped(prefix, ext string) (string, error) {
	name := fmt.Sprintf("%s_%s.%s", prefix, time.Now().Format("20060102_150405"), ext)
	return d.Resolve(name)
}
