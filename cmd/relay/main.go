package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"trustlines-relay/internal/chain"
	"trustlines-relay/internal/config"
	"trustlines-relay/internal/fanin"
	"trustlines-relay/internal/hub"
	"trustlines-relay/internal/proxy"
	"trustlines-relay/internal/push"
	"trustlines-relay/internal/registry"
	"trustlines-relay/internal/relay"
	"trustlines-relay/internal/storage"
	"trustlines-relay/internal/storage/postgres"
	"trustlines-relay/internal/transport"
)

func main() {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Trustlines relay core",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Track the manifest contracts and serve live updates",
		RunE:  runRelay,
	}

	runCmd.Flags().String("rpc", "", "ledger node RPC URL")
	runCmd.Flags().String("addresses", "./addresses.json", "address manifest path")
	runCmd.Flags().Duration("update-networks-interval", 120*time.Second, "manifest reload interval")
	runCmd.Flags().Duration("sync-interval", 300*time.Second, "network full sync interval")
	runCmd.Flags().Duration("event-query-timeout", 20*time.Second, "timeout of a historical event query")
	runCmd.Flags().Duration("poll-interval", 2*time.Second, "new block poll interval")
	runCmd.Flags().Uint64("batch-size", 5000, "blocks per log filter request")
	runCmd.Flags().Int("fanin-concurrency", fanin.DefaultConcurrency, "concurrent sources of one fan-in query")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN of the push token store")
	runCmd.Flags().String("token-file", "", "JSONL push token store, used instead of Postgres")
	runCmd.Flags().String("firebase-credentials", "", "Firebase service account file, enables push notifications")
	runCmd.Flags().String("listen", ":5000", "listen address of the stream and metrics server")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Int("timestamp-cache-size", chain.DefaultTimestampCacheSize, "cached block timestamps")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	checkCmd := &cobra.Command{
		Use:   "check-manifest [path]",
		Short: "Validate an address manifest",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckManifest,
	}

	root.AddCommand(checkCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.TimestampCacheSize)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	logger.Info("connected to chain", zap.String("rpc", cfg.RPCURL), zap.String("chain_id", chainID.String()))

	var (
		backend hub.PushBackend
		store   storage.TokenStore
	)
	if cfg.PushEnabled() {
		fb, err := push.NewFirebaseBackend(ctx, cfg.FirebaseCredentials, logger)
		if err != nil {
			return err
		}
		backend = fb

		if cfg.PGDSN != "" {
			pg, err := postgres.NewStore(ctx, cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
			store = pg
		} else {
			jsonl, err := storage.OpenJsonlTokenStore(cfg.TokenFile)
			if err != nil {
				return err
			}
			store = jsonl
		}
	} else {
		logger.Info("no firebase credentials or token store configured, push notifications disabled")
	}

	r := relay.New(relay.Config{
		UpdateNetworksInterval: cfg.UpdateNetworksInterval,
		SyncInterval:           cfg.SyncInterval,
		EventQueryTimeout:      cfg.EventQueryTimeout,
	}, relay.Dependencies{
		Factory: relay.ChainFactory{
			Backend: chainClient,
			Config: proxy.Config{
				BatchSize:    cfg.BatchSize,
				PollInterval: cfg.PollInterval,
				MaxRetries:   cfg.MaxRetries,
				RetryBackoff: cfg.RetryBackoff,
			},
			Logger: logger,
		},
		Manifest: registry.FileManifest{Path: cfg.AddressesFile, Logger: logger},
		Hub:      hub.New(backend, store, logger),
		FanIn:    fanin.NewEngine(cfg.FanInConcurrency, logger),
		Logger:   logger,
	})
	server := transport.NewServer(cfg.Listen, r, logger)

	logger.Info("relay start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("addresses", cfg.AddressesFile),
		zap.Duration("update_networks_interval", cfg.UpdateNetworksInterval),
		zap.Duration("sync_interval", cfg.SyncInterval),
		zap.String("listen", cfg.Listen),
		zap.Bool("push_enabled", cfg.PushEnabled()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	return g.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
