//go:build !windows

package bridge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/grimoire/internal/ipc"
	"github.com/forest6511/grimoire/pkg/auth"
	"github.com/forest6511/grimoire/pkg/vault"
)

// TestBridgeThroughSocket drives a real vault behind the socket transport
// with native-messaging frames.
func TestBridgeThroughSocket(t *testing.T) {
	ctx := context.Background()
	dir, err := os.MkdirTemp("", "grim")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	opts := vault.Options{
		RecordPath: filepath.Join(dir, "master_password"),
		StorePath:  filepath.Join(dir, "store.json"),
		Params:     auth.Params{Memory: 1024, Time: 1, Threads: 1},
	}
	setup, err := vault.New(opts)
	require.NoError(t, err)
	require.NoError(t, setup.Initialize(ctx, "pw"))
	setup.Close()
	v, err := vault.New(opts)
	require.NoError(t, err)

	sock := filepath.Join(dir, "s.sock")
	ln, cleanup, err := ipc.Listen(sock)
	require.NoError(t, err)
	srv := ipc.NewSocketServer(ipc.NewDispatcher(v, nil, nil), ipc.SocketConfig{}, nil, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(sctx))
		assert.NoError(t, <-done)
		cleanup()
	})

	b := New(ipc.NewClient(sock, 2*time.Second), nil)
	exchange := func(payloads ...string) []ipc.Response {
		var out bytes.Buffer
		require.NoError(t, b.Run(ctx, frames(t, payloads...), &out))
		return readResponses(t, &out)
	}

	locked := exchange(
		`{"action":"ping"}`,
		`{"action":"get_credentials","domain":"github.com"}`,
		`{"action":"set_credentials","domain":"github.com","username":"u","password":"p"}`,
	)
	for _, resp := range locked {
		assert.Equal(t, ipc.ErrorResponse(ipc.MsgLocked), resp)
	}

	ok, err := v.Unlock(ctx, "pw")
	require.NoError(t, err)
	require.True(t, ok)
	defer v.Close()

	unlocked := exchange(
		`{"action":"set_credentials","domain":"github.com","username":"u","password":"p"}`,
		`{"action":"get_credentials","domain":"https://www.github.com/login"}`,
	)
	assert.Equal(t, []ipc.Response{
		{OK: true, Message: ipc.MsgSaved},
		{OK: true, Username: "u", Password: "p"},
	}, unlocked)
}

func TestBridgeWithoutServer(t *testing.T) {
	dir, err := os.MkdirTemp("", "grim")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	b := New(ipc.NewClient(filepath.Join(dir, "missing.sock"), time.Second), nil)
	var out bytes.Buffer
	require.NoError(t, b.Run(context.Background(), frames(t, `{"action":"ping"}`), &out))

	responses := readResponses(t, &out)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].OK)
	assert.Contains(t, responses[0].Error, MsgNotRunningPrefix)
}
