package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/grimoire/pkg/auth"
	"github.com/forest6511/grimoire/pkg/vault"
)

// executeWithInput runs the root command with stdin set to input and resets
// the backup and restore flags afterwards.
func executeWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	rootCmd.SetIn(strings.NewReader(input))
	defer func() {
		rootCmd.SetIn(nil)
		backupWithAudit, backupKeyFile, backupForce = false, "", false
		restoreDryRun, restoreVerifyOnly, restoreOverwrite, restoreWithAudit, restoreKeyFile = false, false, false, false, ""
	}()
	return execute(t, args...)
}

func TestBackupAndRestoreCommands(t *testing.T) {
	dir, err := os.MkdirTemp("", "grim")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	t.Setenv("GRIMOIRE_DATA_DIR", dir)

	cfgPath := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"socket_path: "+filepath.Join(dir, "g.sock")+"\n"+
			"audit_enabled: false\n"+
			"argon2:\n  memory: 1024\n  time: 1\n  threads: 1\n"), 0o600))

	v, err := vault.New(vault.Options{
		RecordPath: filepath.Join(dir, "master_password"),
		StorePath:  filepath.Join(dir, "store.json"),
		Params:     auth.Params{Memory: 1024, Time: 1, Threads: 1},
	})
	require.NoError(t, err)
	require.NoError(t, v.Initialize(context.Background(), "master"))
	_, err = v.UpsertCredentials(context.Background(), "github.com", "octocat", "hunter2")
	require.NoError(t, err)
	v.Close()

	bkp := filepath.Join(dir, "vault.bkp")
	out, err := executeWithInput(t, "bpw\nbpw\n", "backup", bkp, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Backup created successfully")

	_, err = executeWithInput(t, "bpw\nbpw\n", "backup", bkp, "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = executeWithInput(t, "bpw\nother\n", "backup", bkp, "--force", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passwords do not match")

	out, err = executeWithInput(t, "bpw\n", "restore", bkp, "--verify-only", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Backup is valid")
	assert.Contains(t, out, "1 secret(s)")

	_, err = executeWithInput(t, "wrong\n", "restore", bkp, "--verify-only", "--config", cfgPath)
	require.Error(t, err)

	_, err = executeWithInput(t, "bpw\n", "restore", bkp, "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--overwrite")

	out, err = executeWithInput(t, "bpw\n", "restore", bkp, "--dry-run", "--overwrite", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "[dry-run] Would restore 1 secret(s)")

	require.NoError(t, os.Remove(filepath.Join(dir, "store.json")))
	out, err = executeWithInput(t, "bpw\n", "restore", bkp, "--overwrite", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 1 secret(s)")

	restored, err := vault.New(vault.Options{
		RecordPath: filepath.Join(dir, "master_password"),
		StorePath:  filepath.Join(dir, "store.json"),
		Params:     auth.Params{Memory: 1024, Time: 1, Threads: 1},
	})
	require.NoError(t, err)
	ok, err := restored.Unlock(context.Background(), "master")
	require.NoError(t, err)
	require.True(t, ok)
	creds, found, err := restored.FindCredentials(context.Background(), "github.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "octocat", creds.Username)
}
