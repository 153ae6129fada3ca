package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Client sends single requests to a running grimoire over the socket
// transport.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient returns a client for the socket path or pipe name addr. timeout
// bounds one whole exchange; zero means no limit beyond ctx.
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

// Addr returns the endpoint the client talks to.
func (c *Client) Addr() string {
	return c.addr
}

// Send writes req as one line and reads one response line.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: failed to encode request: %w", err)
	}

	conn, err := dial(ctx, c.addr)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return Response{}, fmt.Errorf("ipc: failed to send request: %w", err)
	}

	line, err := readLine(conn)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("ipc: invalid response: %w", err)
	}
	return resp, nil
}
