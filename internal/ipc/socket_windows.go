//go:build windows

package ipc

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// DefaultSocketAddr is the well-known pipe name.
const DefaultSocketAddr = `\\.\pipe\grimoire`

// Listen creates the named pipe. Pipes vanish with their last handle, so the
// returned cleanup does nothing.
func Listen(name string) (net.Listener, func(), error) {
	ln, err := winio.ListenPipe(name, &winio.PipeConfig{
		InputBufferSize:  64 * 1024,
		OutputBufferSize: 64 * 1024,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ipc: failed to listen on %s: %w", name, err)
	}
	return ln, func() {}, nil
}

func dial(ctx context.Context, name string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, name)
}
