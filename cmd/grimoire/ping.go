package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/grimoire/internal/config"
	"github.com/forest6511/grimoire/internal/ipc"
)

var pingTimeout time.Duration

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 2*time.Second, "maximum time to wait for a reply")
}

// pingCmd checks whether a running grimoire is reachable and unlocked.
var pingCmd = &cobra.Command{
	Use:          "ping",
	Short:        "Check whether grimoire is running and unlocked",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		client := ipc.NewClient(cfg.SocketAddress(), pingTimeout)
		resp, err := client.Send(cmd.Context(), ipc.Request{Action: ipc.ActionPing})
		if err != nil {
			return fmt.Errorf("grimoire is not running at %s: %w", client.Addr(), err)
		}
		if !resp.OK {
			return errors.New(resp.Error)
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
		return nil
	},
}
