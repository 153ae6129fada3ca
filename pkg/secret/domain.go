package secret

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var domainPrefixes = []string{"https://", "http://", "www."}

// NormalizeDomain reduces a URL or host to the token matched against secret
// names: trimmed, case-folded, without any leading schemes or "www.", cut at
// the first "/" and without a trailing ".com". The steps repeat until nothing
// changes, so NormalizeDomain(NormalizeDomain(d)) == NormalizeDomain(d).
func NormalizeDomain(domain string) string {
	d := domain
	for {
		next := normalizeOnce(d)
		if next == d {
			return d
		}
		d = next
	}
}

func normalizeOnce(d string) string {
	d = fold(strings.TrimSpace(d))
	for stripped := true; stripped; {
		stripped = false
		for _, prefix := range domainPrefixes {
			if rest, ok := strings.CutPrefix(d, prefix); ok {
				d, stripped = rest, true
			}
		}
	}
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".com")
}

// fold case-folds s in NFC form. A Caser is stateful, so one is built per
// call.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// matchesDomain reports whether a secret called name belongs to the
// normalized domain. An empty domain matches nothing.
func matchesDomain(name, normalized string) bool {
	if normalized == "" {
		return false
	}
	return strings.Contains(fold(name), normalized)
}
