// Package security reports weaknesses across the secrets of an unlocked
// vault without retaining any secret value.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/grimoire/pkg/secret"
)

// DuplicateGroup is a set of secrets sharing the same password.
type DuplicateGroup struct {
	// Indices are the positions of the secrets in the collection.
	Indices []int `json:"indices"`
	// Names are the secret names, in the same order as Indices.
	Names []string `json:"names"`
}

// Count is the number of secrets in the group.
func (g DuplicateGroup) Count() int {
	return len(g.Indices)
}

// FindDuplicates groups secrets whose passwords are equal after trimming and
// NFC normalization. Values are compared as HMAC-SHA256 digests under a key
// generated for this call, so no digest outlives it. Groups are ordered by
// size, largest first, then by first index.
func FindDuplicates(secrets []secret.Secret) ([]DuplicateGroup, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("security: failed to generate comparison key: %w", err)
	}

	byHash := make(map[string]*DuplicateGroup)
	var order []string
	for i, s := range secrets {
		password, ok := s.Password()
		if !ok {
			continue
		}
		value := normalizeValue(password)
		if value == "" {
			continue
		}

		hash := computeValueHash(value, key)
		g, seen := byHash[hash]
		if !seen {
			g = &DuplicateGroup{}
			byHash[hash] = g
			order = append(order, hash)
		}
		g.Indices = append(g.Indices, i)
		g.Names = append(g.Names, s.Name)
	}

	var groups []DuplicateGroup
	for _, hash := range order {
		if g := byHash[hash]; g.Count() > 1 {
			groups = append(groups, *g)
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count() > groups[j].Count()
	})
	return groups, nil
}

// computeValueHash computes HMAC-SHA256 of a value with the session key.
func computeValueHash(value string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeValue(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}
