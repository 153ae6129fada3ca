package secret

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/grimoire/pkg/crypto"
)

func testKey(b byte) []byte {
	key := make([]byte, crypto.KeyLength)
	for i := range key {
		key[i] = b
	}
	return key
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "store.json"))
}

func TestLoadMissingAndEmptyFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load(testKey(1)))
	assert.Equal(t, 0, s.Len())

	require.NoError(t, os.WriteFile(s.Path(), []byte("\n"), 0o600))
	require.NoError(t, s.Load(testKey(1)))
	assert.Equal(t, 0, s.Len())
}

func TestSaveAndLoad(t *testing.T) {
	key := testKey(7)
	s := newTestStore(t)

	require.NoError(t, s.Add(key, New("github", []Pair{
		{Key: "username", Value: "octo"},
		{Key: "password", Value: "s3cret"},
	})))
	require.NoError(t, s.Add(key, New("notes", []Pair{{Key: "pin", Value: "1234"}})))

	reloaded := NewStore(s.Path())
	require.NoError(t, reloaded.Load(key))

	got := reloaded.Secrets()
	require.Len(t, got, 2)
	assert.Equal(t, "github", got[0].Name)
	assert.Equal(t, []Pair{{Key: "username", Value: "octo"}, {Key: "password", Value: "s3cret"}}, got[0].Contents)
	assert.Equal(t, "notes", got[1].Name)
}

func TestStoreFileFormat(t *testing.T) {
	key := testKey(3)
	s := newTestStore(t)
	require.NoError(t, s.Add(key, New("a", nil)))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)

	nonce, ok := raw[0]["nonce"].([]any)
	require.True(t, ok, "nonce must be a JSON array")
	assert.Len(t, nonce, crypto.NonceLength)
	_, ok = raw[0]["ciphertext"].(string)
	assert.True(t, ok, "ciphertext must be a string")
}

func TestSaveAllUsesFreshNonces(t *testing.T) {
	key := testKey(3)
	s := newTestStore(t)
	require.NoError(t, s.Add(key, New("a", nil)))

	before, err := ReadFile(s.Path())
	require.NoError(t, err)
	require.NoError(t, s.SaveAll(key))
	after, err := ReadFile(s.Path())
	require.NoError(t, err)

	assert.NotEqual(t, before[0].Nonce, after[0].Nonce)
}

func TestLoadIntegrityFailure(t *testing.T) {
	key := testKey(9)
	s := newTestStore(t)
	require.NoError(t, s.Add(key, New("one", nil)))
	require.NoError(t, s.Add(key, New("two", nil)))

	t.Run("wrong key", func(t *testing.T) {
		other := NewStore(s.Path())
		err := other.Load(testKey(8))
		assert.ErrorIs(t, err, ErrIntegrity)
		assert.ErrorIs(t, err, crypto.ErrAuthentication)
		assert.Equal(t, 0, other.Len())
	})

	t.Run("tampered record keeps collection", func(t *testing.T) {
		records, err := ReadFile(s.Path())
		require.NoError(t, err)
		records[1].Nonce[0] ^= 0x01
		require.NoError(t, WriteFile(s.Path(), records))

		err = s.Load(key)
		assert.ErrorIs(t, err, ErrIntegrity)
		assert.Equal(t, 2, s.Len())
	})

	t.Run("malformed file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))
		assert.ErrorIs(t, s.Load(key), ErrIntegrity)
	})
}

func TestFindCredentialsForDomain(t *testing.T) {
	key := testKey(1)
	s := newTestStore(t)
	require.NoError(t, s.Add(key, New("GitHub", []Pair{
		{Key: "Username", Value: "a"},
		{Key: "password", Value: "b"},
	})))

	creds, ok := s.FindCredentialsForDomain("https://www.github.com/login")
	require.True(t, ok)
	assert.Equal(t, Credentials{Username: "a", Password: "b"}, creds)

	_, ok = s.FindCredentialsForDomain("gitlab.com")
	assert.False(t, ok)

	_, ok = s.FindCredentialsForDomain("https://")
	assert.False(t, ok, "empty normalized domain matches nothing")
}

func TestFindCredentialsSkipsIncompleteSecrets(t *testing.T) {
	key := testKey(1)
	s := newTestStore(t)
	require.NoError(t, s.Add(key, New("example notes", []Pair{{Key: "user", Value: "only-user"}})))
	require.NoError(t, s.Add(key, New("example", []Pair{
		{Key: "email", Value: "first@example.com"},
		{Key: "pass", Value: "p1"},
		{Key: "user", Value: "last"},
		{Key: "password", Value: "p2"},
	})))
	require.NoError(t, s.Add(key, New("example.com backup", []Pair{
		{Key: "username", Value: "later"},
		{Key: "password", Value: "p3"},
	})))

	creds, ok := s.FindCredentialsForDomain("example.com")
	require.True(t, ok)
	assert.Equal(t, Credentials{Username: "last", Password: "p2"}, creds)
}

func TestUpsertCredentialsForDomain(t *testing.T) {
	key := testKey(2)
	s := newTestStore(t)

	res, err := s.UpsertCredentialsForDomain(key, "https://github.com/login", "u", "p")
	require.NoError(t, err)
	assert.Equal(t, Created, res)
	require.Equal(t, 1, s.Len())

	sec, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/login", sec.Name)
	assert.Equal(t, []Pair{{Key: "username", Value: "u"}, {Key: "password", Value: "p"}}, sec.Contents)

	res, err = s.UpsertCredentialsForDomain(key, "github.com", "u", "p")
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res)
	assert.Equal(t, 1, s.Len())

	res, err = s.UpsertCredentialsForDomain(key, "github.com", "u", "other")
	require.NoError(t, err)
	assert.Equal(t, Conflict, res)
	assert.Equal(t, 1, s.Len())

	reloaded := NewStore(s.Path())
	require.NoError(t, reloaded.Load(key))
	assert.Equal(t, 1, reloaded.Len())
}

func TestUpsertEmptyDomain(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertCredentialsForDomain(testKey(1), "https://www.", "u", "p")
	assert.ErrorIs(t, err, ErrEmptyDomain)
	assert.Equal(t, 0, s.Len())
}

func TestReplaceMovesToEnd(t *testing.T) {
	key := testKey(4)
	s := newTestStore(t)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Add(key, New(name, nil)))
	}

	require.NoError(t, s.Replace(key, 0, New("a2", []Pair{{Key: "k", Value: "v"}})))

	names := []string{}
	for _, sec := range s.Secrets() {
		names = append(names, sec.Name)
	}
	assert.Equal(t, []string{"b", "c", "a2"}, names)

	assert.ErrorIs(t, s.Replace(key, 5, New("x", nil)), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Replace(key, 0, New("", nil)), ErrEmptyName)
}

func TestRemove(t *testing.T) {
	key := testKey(4)
	s := newTestStore(t)
	require.NoError(t, s.Add(key, New("a", nil)))
	require.NoError(t, s.Add(key, New("b", nil)))

	require.NoError(t, s.Remove(key, 0))
	require.Equal(t, 1, s.Len())
	sec, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "b", sec.Name)

	assert.ErrorIs(t, s.Remove(key, 1), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Remove(key, -1), ErrIndexOutOfRange)
}

func TestPersistFailureKeepsCollection(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(testKey(1), New("a", nil)))

	err := s.Add([]byte("short"), New("b", nil))
	assert.ErrorIs(t, err, crypto.ErrInvalidKeyLength)
	assert.Equal(t, 1, s.Len())
}

func TestSearch(t *testing.T) {
	key := testKey(5)
	s := newTestStore(t)
	for _, name := range []string{"GitHub", "gitlab", "bank"} {
		require.NoError(t, s.Add(key, New(name, nil)))
	}

	assert.Equal(t, []int{0, 1}, s.Search("GIT"))
	assert.Equal(t, []int{2}, s.Search("ban"))
	assert.Empty(t, s.Search("zzz"))
}

func TestSecretsReturnsCopies(t *testing.T) {
	key := testKey(5)
	s := newTestStore(t)
	require.NoError(t, s.Add(key, New("a", []Pair{{Key: "k", Value: "v"}})))

	got := s.Secrets()
	got[0].Contents[0].Value = "changed"

	sec, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "v", sec.Contents[0].Value)
}
