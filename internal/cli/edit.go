package cli

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/forest6511/grimoire/pkg/secret"
)

var (
	errNoSuchField  = errors.New("no such field")
	errEmptyKey     = errors.New("field key must not be empty")
	errBadEditUsage = errors.New("usage: edit <n> name <new name> | edit <n> field <m> [key=]value | edit <n> add key=value | edit <n> remove <m>")
)

// EditTarget selects what an edit replaces: the secret's name or one of its
// pairs.
type EditTarget interface {
	apply(s *secret.Secret, value string) error
}

// NameTarget renames the secret.
type NameTarget struct{}

// FieldTarget replaces the pair at Index (zero-based). A value of the form
// key=value replaces both parts; anything else replaces only the value.
type FieldTarget struct {
	Index int
}

func (NameTarget) apply(s *secret.Secret, value string) error {
	if strings.TrimSpace(value) == "" {
		return secret.ErrEmptyName
	}
	s.Name = value
	return nil
}

func (t FieldTarget) apply(s *secret.Secret, value string) error {
	if t.Index < 0 || t.Index >= len(s.Contents) {
		return fmt.Errorf("%w: %d", errNoSuchField, t.Index+1)
	}
	if key, v, ok := strings.Cut(value, "="); ok {
		if key = strings.TrimSpace(key); key == "" {
			return errEmptyKey
		}
		s.Contents[t.Index] = secret.Pair{Key: key, Value: v}
		return nil
	}
	s.Contents[t.Index].Value = value
	return nil
}

// ParseEditTarget parses "name" or "field <m>" (m one-based) from the start
// of args and returns the target with the remaining text.
func ParseEditTarget(args string) (EditTarget, string, error) {
	kind, rest := cutWord(args)
	switch kind {
	case "name":
		return NameTarget{}, rest, nil
	case "field":
		n, value := cutWord(rest)
		idx, err := parseIndex(n)
		if err != nil {
			return nil, "", err
		}
		return FieldTarget{Index: idx}, value, nil
	default:
		return nil, "", errBadEditUsage
	}
}

// ApplyEdit returns a copy of s with target set to value and a fresh
// modification time. s is not modified.
func ApplyEdit(s secret.Secret, target EditTarget, value string) (secret.Secret, error) {
	edited := s.Clone()
	if err := target.apply(&edited, value); err != nil {
		return secret.Secret{}, err
	}
	edited.LastModified = time.Now()
	return edited, nil
}

// AddField returns a copy of s with pair appended.
func AddField(s secret.Secret, pair string) (secret.Secret, error) {
	p, err := parsePair(pair)
	if err != nil {
		return secret.Secret{}, err
	}
	edited := s.Clone()
	edited.Contents = append(edited.Contents, p)
	edited.LastModified = time.Now()
	return edited, nil
}

// RemoveField returns a copy of s without the pair at index.
func RemoveField(s secret.Secret, index int) (secret.Secret, error) {
	if index < 0 || index >= len(s.Contents) {
		return secret.Secret{}, fmt.Errorf("%w: %d", errNoSuchField, index+1)
	}
	edited := s.Clone()
	edited.Contents = slices.Delete(edited.Contents, index, index+1)
	edited.LastModified = time.Now()
	return edited, nil
}

func parsePair(s string) (secret.Pair, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return secret.Pair{}, fmt.Errorf("expected key=value, got %q", s)
	}
	return secret.Pair{Key: key, Value: value}, nil
}

// parseIndex converts a one-based index typed by the user to zero-based.
func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return n - 1, nil
}

// cutWord splits s into its first whitespace-separated word and the trimmed
// remainder.
func cutWord(s string) (word, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}
