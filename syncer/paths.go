package syncer

import (
	"fmt"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ValidatePath returns the absolute form of candidate if it lies strictly
// inside baseDir, both lexically and after following symlinks that already
// exist below baseDir. Anything else fails with ErrPathEscape.
func ValidatePath(baseDir, candidate string) (string, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolve base %q: %w", baseDir, err)
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", candidate, err)
	}

	rel, err := filepath.Rel(base, abs)
	if err != nil || !isDescendant(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, candidate)
	}

	// SecureJoin resolves symlinks scoped to base. Without links on the way
	// it yields abs unchanged.
	scoped, err := securejoin.SecureJoin(base, rel)
	if err != nil {
		return "", fmt.Errorf("resolve %q under %q: %w", candidate, base, err)
	}
	if scoped == abs {
		return abs, nil
	}

	target, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s links to an unresolvable target", ErrPathEscape, candidate)
	}
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return "", fmt.Errorf("resolve base %q: %w", base, err)
	}
	if realRel, err := filepath.Rel(realBase, target); err != nil || !isDescendant(realRel) {
		return "", fmt.Errorf("%w: %s resolves to %s", ErrPathEscape, candidate, target)
	}
	return abs, nil
}

func isDescendant(rel string) bool {
	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
