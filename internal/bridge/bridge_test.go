package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/grimoire/internal/ipc"
)

type fakeRelay struct {
	requests []ipc.Request
	resp     ipc.Response
	err      error
}

func (f *fakeRelay) Send(_ context.Context, req ipc.Request) (ipc.Response, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func frames(t *testing.T, payloads ...string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range payloads {
		require.NoError(t, ipc.WriteFrame(&buf, []byte(p)))
	}
	return &buf
}

func readResponses(t *testing.T, out *bytes.Buffer) []ipc.Response {
	t.Helper()
	var responses []ipc.Response
	for out.Len() > 0 {
		payload, err := ipc.ReadFrame(out)
		require.NoError(t, err)
		resp, err := ipc.ParseResponse(payload)
		require.NoError(t, err)
		responses = append(responses, resp)
	}
	return responses
}

func TestRunRelaysEachFrame(t *testing.T) {
	relay := &fakeRelay{resp: ipc.Response{OK: true, Username: "u", Password: "p"}}
	in := frames(t,
		`{"action":"get_credentials","domain":"github.com"}`,
		`{"action":"ping"}`,
	)
	var out bytes.Buffer

	require.NoError(t, New(relay, nil).Run(context.Background(), in, &out))

	assert.Equal(t, []ipc.Request{
		{Action: ipc.ActionGetCredentials, Domain: "github.com"},
		{Action: ipc.ActionPing},
	}, relay.requests)
	assert.Len(t, readResponses(t, &out), 2)
}

func TestRunContinuesAfterInvalidJSON(t *testing.T) {
	relay := &fakeRelay{resp: ipc.Response{OK: true, Message: ipc.MsgPong}}
	in := frames(t, `not json`, `{"action":"ping"}`)
	var out bytes.Buffer

	require.NoError(t, New(relay, nil).Run(context.Background(), in, &out))

	responses := readResponses(t, &out)
	require.Len(t, responses, 2)
	assert.False(t, responses[0].OK)
	assert.Contains(t, responses[0].Error, "Invalid JSON: ")
	assert.Equal(t, ipc.Response{OK: true, Message: ipc.MsgPong}, responses[1])
	assert.Len(t, relay.requests, 1)
}

func TestRunReportsRelayFailure(t *testing.T) {
	relay := &fakeRelay{err: errors.New("connection refused")}
	var out bytes.Buffer

	require.NoError(t, New(relay, nil).Run(context.Background(), frames(t, `{"action":"ping"}`), &out))

	assert.Equal(t,
		[]ipc.Response{ipc.ErrorResponse("Grimoire is not running: connection refused")},
		readResponses(t, &out))
}

func TestRunOversizedFrame(t *testing.T) {
	var in bytes.Buffer
	var prefix [4]byte
	binary.NativeEndian.PutUint32(prefix[:], ipc.MaxFrameSize+1)
	in.Write(prefix[:])
	var out bytes.Buffer

	err := New(&fakeRelay{}, nil).Run(context.Background(), &in, &out)
	assert.ErrorIs(t, err, ipc.ErrFrameTooLarge)
	assert.Equal(t, []ipc.Response{ipc.ErrorResponse(ipc.MsgTooLarge)}, readResponses(t, &out))
}

func TestRunTruncatedFrame(t *testing.T) {
	in := bytes.NewBuffer([]byte{10, 0})
	var out bytes.Buffer

	err := New(&fakeRelay{}, nil).Run(context.Background(), in, &out)
	assert.Error(t, err)
	assert.Zero(t, out.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer

	err := New(&fakeRelay{}, nil).Run(ctx, frames(t, `{"action":"ping"}`), &out)
	assert.ErrorIs(t, err, context.Canceled)
}
