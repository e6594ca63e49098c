package pack

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for destinations that leave the pack root.
var ErrOutsideRoot = errors.New("destination escapes pack root")

// Root resolves manifest destinations against the pack directory.
type Root struct {
	dir string
}

// NewRoot returns a Root for dir, made absolute.
func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving pack root %s: %w", dir, err)
	}
	return &Root{dir: abs}, nil
}

// Dir is the absolute pack root.
func (r *Root) Dir() string {
	return r.dir
}

// Resolve returns the absolute path of a slash-separated destination.
func (r *Root) Resolve(dest string) (string, error) {
	if dest == "" || filepath.IsAbs(dest) || strings.HasPrefix(dest, "/") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, dest)
	}
	joined := filepath.Join(r.dir, filepath.FromSlash(dest))
	rel, err := filepath.Rel(r.dir, joined)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, dest)
	}
	return joined, nil
}
