// Package repo normalizes repository identifiers.
//
// The service accepts either a bare "owner/name" identifier or a web URL to
// the repository page. Both forms normalize to the canonical "owner/name"
// string; everything else is rejected before any pipeline stage runs.
package repo

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier is returned when an input cannot be normalized to the
// owner/name form. It can be checked with errors.Is.
var ErrInvalidIdentifier = errors.New("malformed repository identifier")

// identifierPattern is the canonical form every normalized identifier
// satisfies: exactly one slash separating two non-empty segments.
var identifierPattern = regexp.MustCompile(`^[^/\s]+/[^/\s]+$`)

// Normalize parses s into the canonical owner/name identifier.
//
// Accepted inputs:
//   - bare identifiers: "octocat/hello-world"
//   - web URLs: "https://github.com/octocat/hello-world/tree/main"
//
// For URL inputs the first two non-empty path segments become owner and
// name; any trailing path is discarded. A ".git" suffix on the name is
// stripped. Normalize is idempotent: normalizing its own output yields the
// same string.
func Normalize(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidIdentifier)
	}

	segments, err := pathSegments(trimmed)
	if err != nil {
		return "", err
	}
	if len(segments) < 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}

	owner := segments[0]
	name := strings.TrimSuffix(segments[1], ".git")

	id := owner + "/" + name
	if !identifierPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return id, nil
}

// pathSegments splits the input into the path segments that may contain the
// owner/name pair, stripping any URL scheme and host first.
func pathSegments(s string) ([]string, error) {
	in := s

	if strings.Contains(in, "://") {
		u, err := url.Parse(in)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
		}
		in = u.Path
	}

	segments := nonEmptySegments(in)

	// A host-prefixed form without a scheme ("github.com/owner/name") is
	// only treated as a URL when the extra leading segment looks like a
	// hostname; a two-segment identifier whose owner contains a dot stays
	// a bare identifier.
	if len(segments) > 2 && strings.Contains(segments[0], ".") {
		segments = segments[1:]
	}

	// Bare identifiers must be exactly owner/name. Longer bare forms are
	// ambiguous and rejected rather than guessed at.
	if !strings.Contains(s, "://") && len(segments) > 2 && !strings.Contains(s, ".") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}

	return segments, nil
}

func nonEmptySegments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
