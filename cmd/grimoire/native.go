package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/grimoire/internal/bridge"
	"github.com/forest6511/grimoire/internal/ipc"
)

// relayTimeout bounds one request relayed to the running process.
const relayTimeout = 5 * time.Second

func init() {
	rootCmd.AddCommand(nativeMessagingCmd)
}

// nativeMessagingCmd is launched by the browser for the extension's native
// messaging port.
var nativeMessagingCmd = &cobra.Command{
	Use:   "native-messaging [origin]",
	Short: "Relay browser native messages to the running grimoire",
	Long: `Relay length-prefixed native messaging frames from stdin to the running
grimoire over its socket transport and write the replies to stdout.

The browser starts this command itself; the extension origin it passes as an
argument is ignored. Register it in the browser's native messaging host
manifest.`,
	Args:               cobra.ArbitraryArgs,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	SilenceUsage:       true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), signalsToNotify()...)
		defer stop()

		client := ipc.NewClient(cfg.SocketAddress(), relayTimeout)
		if err := bridge.New(client, log).Run(ctx, os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("native messaging: %w", err)
		}
		return nil
	},
}
