// Package mcp implements an MCP (Model Context Protocol) server that lets AI
// assistants check whether grimoire is unlocked and look up credentials for a
// domain. Passwords are only ever returned masked.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/grimoire/internal/ipc"
)

// Client relays one request to the running grimoire process.
type Client interface {
	Send(ctx context.Context, req ipc.Request) (ipc.Response, error)
}

// Server is the MCP server. It holds no vault state of its own; every tool
// call is one request over the socket transport.
type Server struct {
	server *mcp.Server
	client Client
	log    *zap.Logger
}

// NewServer creates a server relaying through client.
func NewServer(client Client, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		server: mcp.NewServer(
			&mcp.Implementation{
				Name:    "grimoire",
				Version: version,
			},
			nil,
		),
		client: client,
		log:    log,
	}
	s.registerTools()
	return s
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_status",
		Description: "Report whether grimoire is running and unlocked.",
	}, s.handleVaultStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "credentials_lookup",
		Description: "Look up the saved username for a domain. The password is returned masked (e.g. '****WXYZ'), never in plain text.",
	}, s.handleCredentialsLookup)
}

// Run serves MCP over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
