// Package importer converts exports of other password managers into grimoire
// secrets. Supports Bitwarden JSON, 1Password CSV and LastPass CSV.
package importer

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/grimoire/pkg/secret"
)

// Source identifies an export format.
type Source string

const (
	Source1Password Source = "1password"
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
)

// Result is the outcome of parsing one export.
type Result struct {
	// Secrets are the converted items, in export order.
	Secrets []secret.Secret
	// Warnings are non-fatal issues, one per affected item.
	Warnings []string
	// Skipped are items without any usable value.
	Skipped []SkippedItem
}

// SkippedItem is an export item that produced no secret.
type SkippedItem struct {
	OriginalName string
	Reason       string
}

// Parser converts one export format.
type Parser interface {
	Parse(data []byte) (*Result, error)
	Source() Source
}

// ParserFor returns the parser for source.
func ParserFor(source string) (Parser, error) {
	switch Source(strings.ToLower(source)) {
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case Source1Password:
		return &OnePasswordParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("importer: unknown source %q (want bitwarden, 1password or lastpass)", source)
	}
}

// builder accumulates the pairs of one item, dropping empty values.
type builder struct {
	pairs []secret.Pair
}

func (b *builder) add(key, value string) {
	if IsEmptyOrWhitespace(value) {
		return
	}
	b.pairs = append(b.pairs, secret.Pair{Key: key, Value: value})
}

// secretName picks the item's display name, falling back to its URL host
// and then to imported_item_N.
func secretName(name, url string, counter *int) string {
	if name = strings.TrimSpace(norm.NFC.String(name)); name != "" {
		return name
	}
	if host := extractHostname(url); host != "" {
		return host
	}
	*counter++
	return fmt.Sprintf("imported_item_%d", *counter)
}

// extractHostname extracts the hostname from a URL.
func extractHostname(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	urlStr = strings.TrimPrefix(urlStr, "https://")
	urlStr = strings.TrimPrefix(urlStr, "http://")

	if idx := strings.Index(urlStr, "/"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	if idx := strings.Index(urlStr, ":"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	return strings.TrimPrefix(urlStr, "www.")
}

// DecodeHTMLEntities decodes the entities LastPass writes into exports.
func DecodeHTMLEntities(s string) string {
	return strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&apos;", "'",
	).Replace(s)
}

// IsEmptyOrWhitespace checks if a string is empty or contains only whitespace.
func IsEmptyOrWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
