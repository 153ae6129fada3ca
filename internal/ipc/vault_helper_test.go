package ipc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forest6511/grimoire/pkg/auth"
	"github.com/forest6511/grimoire/pkg/vault"
)

const testPassword = "correct horse"

// newLockedVault returns a vault with a master password set that has not
// been unlocked.
func newLockedVault(t *testing.T) *vault.Vault {
	t.Helper()
	dir := t.TempDir()
	opts := vault.Options{
		RecordPath: filepath.Join(dir, "master_password"),
		StorePath:  filepath.Join(dir, "store.json"),
		Params:     auth.Params{Memory: 1024, Time: 1, Threads: 1},
	}

	setup, err := vault.New(opts)
	require.NoError(t, err)
	require.NoError(t, setup.Initialize(context.Background(), testPassword))
	setup.Close()

	v, err := vault.New(opts)
	require.NoError(t, err)
	require.Equal(t, vault.Locked, v.State())
	return v
}

func unlock(t *testing.T, v *vault.Vault) {
	t.Helper()
	ok, err := v.Unlock(context.Background(), testPassword)
	require.NoError(t, err)
	require.True(t, ok)
}
