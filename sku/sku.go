// Package sku validates and normalizes SKU identifiers and the file extensions
// used to build remote object keys and local file names from them.
//
// An identifier ends up both in an S3 key and in a path on the local disk, so
// the accepted alphabet is deliberately narrow:
//
//	[a-zA-Z0-9._-]{1,100}, never containing ".."
//
// Extensions are matched against ^\.[a-zA-Z0-9]+$ and may be at most 10
// characters long including the leading dot.
package sku

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxIdentifierLength is the longest identifier accepted after trimming.
	MaxIdentifierLength = 100

	// MaxExtensionLength is the longest extension accepted, dot included.
	MaxExtensionLength = 10

	// MaxIdentifiers caps the number of distinct identifiers in a single run.
	MaxIdentifiers = 10000
)

var (
	// ErrInvalidIdentifier is returned by Sanitize for identifiers that are
	// unsafe to use as an object key or a file name.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidExtension is returned for malformed file extensions.
	ErrInvalidExtension = errors.New("invalid extension")

	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	extensionPattern  = regexp.MustCompile(`^\.[a-zA-Z0-9]+$`)
)

// Sanitize trims raw and checks it against the identifier rules.
// The same input always yields the same result.
func Sanitize(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	switch {
	case id == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	case len(id) > MaxIdentifierLength:
		return "", fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidIdentifier, len(id), MaxIdentifierLength)
	case strings.Contains(id, ".."):
		return "", fmt.Errorf("%w: %q contains \"..\"", ErrInvalidIdentifier, id)
	case strings.ContainsAny(id, `/\`):
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidIdentifier, id)
	case !identifierPattern.MatchString(id):
		return "", fmt.Errorf("%w: %q contains characters outside [a-zA-Z0-9._-]", ErrInvalidIdentifier, id)
	}
	return id, nil
}

// ValidateExtension checks a single candidate suffix such as ".pdf".
func ValidateExtension(ext string) error {
	if len(ext) > MaxExtensionLength {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidExtension, ext, MaxExtensionLength)
	}
	if !extensionPattern.MatchString(ext) {
		return fmt.Errorf("%w: %q must look like .abc", ErrInvalidExtension, ext)
	}
	return nil
}

// ValidateExtensions checks every entry and reports the first bad one.
// An empty set is invalid since no key could be built.
func ValidateExtensions(exts []string) error {
	if len(exts) == 0 {
		return fmt.Errorf("%w: at least one extension is required", ErrInvalidExtension)
	}
	for _, ext := range exts {
		if err := ValidateExtension(ext); err != nil {
			return err
		}
	}
	return nil
}

// Dedupe drops repeated identifiers, comparing trimmed values and keeping the
// first occurrence. The returned values are trimmed; blank entries are kept
// once so they still produce a (failed) outcome downstream.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
