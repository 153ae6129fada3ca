// Package bridge relays native-messaging frames from a browser extension to
// the running grimoire process over the socket transport.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/forest6511/grimoire/internal/ipc"
)

// MsgNotRunningPrefix starts the error returned when the socket transport
// cannot be reached.
const MsgNotRunningPrefix = "Grimoire is not running: "

// Relay sends one request to the running process.
type Relay interface {
	Send(ctx context.Context, req ipc.Request) (ipc.Response, error)
}

// Bridge reads frames from in, relays each request and writes the reply as a
// frame to out.
type Bridge struct {
	relay Relay
	log   *zap.Logger
}

// New returns a bridge relaying through r.
func New(r Relay, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{relay: r, log: log}
}

// Run serves frames until in is exhausted or ctx is done. A clean end of
// input returns nil. Malformed requests are answered and do not stop the
// loop; broken framing does.
func (b *Bridge) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := ipc.ReadFrame(in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, ipc.ErrFrameTooLarge) {
				// The oversized body is still unread, so the stream cannot be
				// resynchronised.
				_ = b.write(out, ipc.ErrorResponse(ipc.MsgTooLarge))
			}
			return fmt.Errorf("bridge: failed to read frame: %w", err)
		}

		if err := b.write(out, b.handle(ctx, payload)); err != nil {
			return err
		}
	}
}

func (b *Bridge) handle(ctx context.Context, payload []byte) ipc.Response {
	req, err := ipc.ParseRequest(payload)
	if err != nil {
		return ipc.InvalidJSON(err)
	}

	resp, err := b.relay.Send(ctx, req)
	if err != nil {
		b.log.Warn("relay failed", zap.String("action", req.Action), zap.Error(err))
		return ipc.ErrorResponse(MsgNotRunningPrefix + err.Error())
	}
	return resp
}

func (b *Bridge) write(out io.Writer, resp ipc.Response) error {
	if err := ipc.WriteFrame(out, ipc.MarshalResponse(resp)); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	return nil
}
