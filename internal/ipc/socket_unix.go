//go:build !windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/forest6511/grimoire/internal/fsutil"
)

// DefaultSocketAddr is the well-known socket path.
const DefaultSocketAddr = "/tmp/grimoire.sock"

// staleProbeTimeout bounds the check for a live server behind an existing
// socket file.
const staleProbeTimeout = 200 * time.Millisecond

// ErrAddrInUse indicates another process is serving on the socket path.
var ErrAddrInUse = errors.New("ipc: socket is in use by another process")

// Listen creates the Unix socket at path with owner-only permissions. A socket
// file left by a crashed process is removed first. The returned cleanup
// removes the socket file.
func Listen(path string) (net.Listener, func(), error) {
	if err := removeStale(path); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), fsutil.DirMode); err != nil {
		return nil, nil, fmt.Errorf("ipc: failed to create socket directory: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, nil, fmt.Errorf("ipc: failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, fsutil.FileMode); err != nil {
		ln.Close()
		return nil, nil, fmt.Errorf("ipc: failed to restrict socket permissions: %w", err)
	}

	cleanup := func() { _ = os.Remove(path) }
	return ln, cleanup, nil
}

func removeStale(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ipc: failed to stat socket path: %w", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("ipc: %s exists and is not a socket", path)
	}

	conn, err := net.DialTimeout("unix", path, staleProbeTimeout)
	if err == nil {
		conn.Close()
		return ErrAddrInUse
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ipc: failed to remove stale socket: %w", err)
	}
	return nil
}

func dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}
