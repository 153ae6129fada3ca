package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize caps the payload of one length-prefixed frame and one
// newline-delimited socket message.
const MaxFrameSize = 4 << 20

// ErrFrameTooLarge is returned for frames whose declared length exceeds
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("ipc: frame exceeds maximum size")

// ReadFrame reads one native-messaging frame: a 4-byte length in host byte
// order followed by that many bytes. A clean end of stream before the prefix
// returns io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("ipc: truncated frame length: %w", err)
		}
		return nil, err
	}

	n := binary.NativeEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("ipc: truncated frame body: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload as one native-messaging frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, 4+len(payload))
	binary.NativeEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("ipc: failed to write frame: %w", err)
	}
	return nil
}
