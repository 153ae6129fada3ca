// Package cli implements the interactive grimoire console.
package cli

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/cases"
)

// IsPattern reports whether query contains glob characters.
func IsPattern(query string) bool {
	return strings.ContainsAny(query, "*?[")
}

// MatchNames returns the indices of names matching the glob pattern,
// compared case-insensitively. '*' does not match '/'.
func MatchNames(pattern string, names []string) ([]int, error) {
	folder := cases.Fold()
	p := folder.String(pattern)
	if _, err := path.Match(p, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	var matches []int
	for i, name := range names {
		matched, err := path.Match(p, folder.String(name))
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, i)
		}
	}
	return matches, nil
}
