package main

import (
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/forest6511/grimoire/internal/ipc"
	"github.com/forest6511/grimoire/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI coding assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI coding assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio that relays to the
running grimoire over its socket transport.

Available tools:
  - vault_status:       whether grimoire is running and unlocked
  - credentials_lookup: username and masked password for a domain

Passwords are never returned in plain text. The vault must be unlocked in
the grimoire console; this command holds no key of its own.

Example MCP client configuration:
  {
    "mcpServers": {
      "grimoire": {
        "type": "stdio",
        "command": "/path/to/grimoire",
        "args": ["mcp-server"]
      }
    }
  }`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), signalsToNotify()...)
		defer stop()

		server := mcp.NewServer(ipc.NewClient(cfg.SocketAddress(), relayTimeout), buildVersion(), log)
		if err := server.Run(ctx); err != nil {
			// Don't report context canceled as an error
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	},
}
