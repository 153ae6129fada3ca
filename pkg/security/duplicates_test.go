package security

import (
	"testing"

	"github.com/forest6511/grimoire/pkg/secret"
)

func login(name, user, password string) secret.Secret {
	return secret.New(name, []secret.Pair{
		{Key: "username", Value: user},
		{Key: "password", Value: password},
	})
}

func TestFindDuplicates(t *testing.T) {
	secrets := []secret.Secret{
		login("github.com", "a", "hunter2"),
		login("gitlab.com", "a", "unique"),
		login("bank", "b", " hunter2 "),
		secret.New("notes", []secret.Pair{{Key: "text", Value: "hunter2"}}),
		login("mail", "c", "café"),
		login("shop", "c", "café"),
		login("forum", "d", "hunter2"),
		login("empty", "e", ""),
		login("empty2", "e", "  "),
	}

	groups, err := FindDuplicates(secrets)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(groups), groups)
	}

	want := [][]int{{0, 2, 6}, {4, 5}}
	for i, g := range groups {
		if len(g.Indices) != len(want[i]) {
			t.Fatalf("group %d: expected indices %v, got %v", i, want[i], g.Indices)
		}
		for j := range g.Indices {
			if g.Indices[j] != want[i][j] {
				t.Errorf("group %d: expected indices %v, got %v", i, want[i], g.Indices)
			}
			if g.Names[j] != secrets[g.Indices[j]].Name {
				t.Errorf("group %d: name %q does not match index %d", i, g.Names[j], g.Indices[j])
			}
		}
	}
}

func TestFindDuplicatesNone(t *testing.T) {
	groups, err := FindDuplicates([]secret.Secret{login("a", "u", "one"), login("b", "u", "two")})
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected no groups, got %+v", groups)
	}
}

func TestComputeValueHashDependsOnKey(t *testing.T) {
	a := computeValueHash("hunter2", []byte("key-one"))
	b := computeValueHash("hunter2", []byte("key-two"))
	if a == b {
		t.Error("expected different digests under different keys")
	}
	if a != computeValueHash("hunter2", []byte("key-one")) {
		t.Error("expected deterministic digest")
	}
}
