package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/forest6511/grimoire/internal/cli"
	"github.com/forest6511/grimoire/internal/config"
	"github.com/forest6511/grimoire/internal/ipc"
	"github.com/forest6511/grimoire/internal/logger"
	"github.com/forest6511/grimoire/internal/metrics"
	"github.com/forest6511/grimoire/pkg/audit"
	"github.com/forest6511/grimoire/pkg/vault"
)

// shutdownTimeout bounds waiting for in-flight transport requests on exit.
const shutdownTimeout = 5 * time.Second

// configPath is set by the --config flag.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "grimoire",
	Short: "grimoire is a local password vault with browser integration",
	Long: `grimoire keeps secrets encrypted at rest under a master password.

Running grimoire without a subcommand starts the vault: it serves the local
socket and HTTP transports used by the browser extension, then opens the
console, which asks for the master password (or sets one up on first run).
Until the vault is unlocked every transport answers "App is locked".`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runApp(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data dir>/config.yaml)")
}

// loadLogger loads configuration and the file logger shared by every
// subcommand.
func loadLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogPath())
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func runApp(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogPath())
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := disableCoreDumps(); err != nil {
		log.Warn("failed to disable core dumps", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(parent, signalsToNotify()...)
	defer stop()

	m := metrics.New("grimoire")
	var auditLog *audit.Logger
	if cfg.AuditEnabled {
		auditLog = audit.NewLogger(cfg.AuditPath())
	}

	v, err := vault.New(vault.Options{
		RecordPath: cfg.RecordPath(),
		StorePath:  cfg.StorePath(),
		Params:     cfg.Argon2,
		Logger:     log,
		Audit:      auditLog,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}
	defer v.Close()

	dispatcher := ipc.NewDispatcher(v, log, m)
	var transports errgroup.Group

	var socketServer *ipc.SocketServer
	if cfg.SocketEnabled {
		socketServer = ipc.NewSocketServer(dispatcher, ipc.SocketConfig{
			MaxConnections: cfg.MaxConnections,
			ReadTimeout:    cfg.ReadTimeout,
		}, log, m)
		addr := cfg.SocketAddress()
		transports.Go(func() error {
			if err := socketServer.ListenAndServe(addr); err != nil {
				log.Error("socket transport disabled", zap.String("addr", addr), zap.Error(err))
				fmt.Fprintf(os.Stderr, "warning: socket transport disabled: %v\n", err)
			}
			return nil
		})
	}

	var httpServer *ipc.HTTPServer
	if cfg.HTTPEnabled {
		httpCfg := ipc.HTTPConfig{Addr: cfg.HTTPAddr}
		if cfg.MetricsEnabled {
			httpCfg.Metrics = m.Handler()
		}
		httpServer = ipc.NewHTTPServer(dispatcher, httpCfg, log)
		transports.Go(func() error {
			if err := httpServer.ListenAndServe(); err != nil {
				log.Error("http transport disabled", zap.String("addr", cfg.HTTPAddr), zap.Error(err))
				fmt.Fprintf(os.Stderr, "warning: http transport disabled: %v\n", err)
			}
			return nil
		})
	}

	// The console blocks on stdin, so it is not joined on shutdown.
	consoleDone := make(chan error, 1)
	go func() {
		consoleDone <- cli.New(v, os.Stdin, os.Stdout, cli.WithLogger(log)).Run(ctx)
	}()

	var runErr error
	select {
	case runErr = <-consoleDone:
	case <-ctx.Done():
		fmt.Fprintln(os.Stdout)
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if socketServer != nil {
		if err := socketServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("socket transport shutdown", zap.Error(err))
		}
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http transport shutdown", zap.Error(err))
		}
	}
	_ = transports.Wait()

	log.Info("grimoire stopped")
	return runErr
}
