package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/grimoire/pkg/crypto"
)

// testParams keeps Argon2id cheap in tests.
var testParams = Params{Memory: 1024, Time: 1, Threads: 1}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	return NewGate(filepath.Join(t.TempDir(), "master_password"), testParams)
}

func TestReadRecordMissing(t *testing.T) {
	g := newTestGate(t)

	_, err := g.ReadRecord()
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestReadRecordEmpty(t *testing.T) {
	g := newTestGate(t)
	require.NoError(t, os.WriteFile(g.Path(), []byte(" \n"), 0o600))

	_, err := g.ReadRecord()
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestSetMasterPassword(t *testing.T) {
	g := newTestGate(t)

	key, err := g.SetMasterPassword("hunter2")
	require.NoError(t, err)
	assert.Len(t, key, crypto.KeyLength)

	stored, err := g.ReadRecord()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(stored), "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := Authenticate("hunter2", stored)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Authenticate("hunter3", stored)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetMasterPasswordFreshSalt(t *testing.T) {
	g := newTestGate(t)

	_, err := g.SetMasterPassword("pw")
	require.NoError(t, err)
	first, err := g.ReadRecord()
	require.NoError(t, err)

	_, err = g.SetMasterPassword("pw")
	require.NoError(t, err)
	second, err := g.ReadRecord()
	require.NoError(t, err)

	assert.NotEqual(t, string(first), string(second))
}

func TestSetMasterPasswordInvalidParams(t *testing.T) {
	g := NewGate(filepath.Join(t.TempDir(), "master_password"), Params{})

	_, err := g.SetMasterPassword("pw")
	assert.Error(t, err)

	_, err = g.ReadRecord()
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestDeriveKey(t *testing.T) {
	g := newTestGate(t)

	setupKey, err := g.SetMasterPassword("correct horse")
	require.NoError(t, err)
	stored, err := g.ReadRecord()
	require.NoError(t, err)

	t.Run("deterministic", func(t *testing.T) {
		key, err := DeriveKey("correct horse", stored)
		require.NoError(t, err)
		assert.Equal(t, setupKey, key)
	})

	t.Run("differs per password", func(t *testing.T) {
		key, err := DeriveKey("battery staple", stored)
		require.NoError(t, err)
		assert.Len(t, key, crypto.KeyLength)
		assert.NotEqual(t, setupKey, key)
	})

	t.Run("differs from stored verifier", func(t *testing.T) {
		record, err := ParseRecord(string(stored))
		require.NoError(t, err)
		assert.NotEqual(t, record.Hash, setupKey)
	})
}

func TestAuthenticateCorruptRecord(t *testing.T) {
	_, err := Authenticate("pw", []byte("not a record"))
	assert.ErrorIs(t, err, ErrCorruptAuthRecord)

	_, err = DeriveKey("pw", []byte("$argon2id$v=19$m=1,t=1,p=1$$"))
	assert.ErrorIs(t, err, ErrCorruptAuthRecord)
}
