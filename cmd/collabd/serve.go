package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vango-dev/collab/internal/config"
	"github.com/vango-dev/collab/internal/errors"
	"github.com/vango-dev/collab/pkg/hub"
	"github.com/vango-dev/collab/pkg/middleware"
	"github.com/vango-dev/collab/pkg/relay"
	"github.com/vango-dev/collab/pkg/server"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coordination server",
		Long: `Start the HTTP/WebSocket server.

The server stops gracefully on SIGINT or SIGTERM: relays unsubscribe,
open connections are closed, and in-flight requests drain.

Examples:
  collabd serve
  collabd serve --address=:9000
  COLLAB_REDIS_ADDR=redis:6379 collabd serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Address = address
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (default from collab.json)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	middleware.Init()

	rdb := newRedisClient(cfg)
	defer rdb.Close()
	if err := pingRedis(ctx, rdb, cfg.Redis.Addr); err != nil {
		// Relays retry and locks fail per request; the server can start.
		logger.Warn("redis not reachable at startup", "addr", cfg.Redis.Addr, "error", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	srv, err := server.New(serverConfig(cfg), server.Deps{
		Bus:      relay.NewRedisBus(rdb),
		Locks:    newLockManager(cfg, rdb),
		Store:    store,
		Asker:    newAsker(cfg),
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logger,
	})
	if err != nil {
		return errors.FromError(err, "C104")
	}

	logger.Info("collabd starting",
		"version", version,
		"address", cfg.Address,
		"redis", cfg.Redis.Addr,
		"docstore", cfg.DocStore.Backend,
	)
	if err := srv.Run(ctx); err != nil {
		return errors.New("R304").Wrap(err)
	}
	return nil
}

// serverConfig maps collab.json onto the server's configuration.
func serverConfig(cfg *config.Config) *server.ServerConfig {
	sc := server.DefaultServerConfig().WithAddress(cfg.Address)
	sc.Channels = cfg.Channels
	sc.ShutdownTimeout = cfg.ShutdownTimeoutDuration()
	sc.ConnConfig = &hub.ConnConfig{
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		SendQueueSize:     cfg.WebSocket.SendQueueSize,
		WriteTimeout:      cfg.WriteTimeout(),
		ReadTimeout:       cfg.ReadTimeout(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
	}
	sc.RelayConfig = &relay.Config{
		BackoffMin: cfg.RelayBackoffMin(),
		BackoffMax: cfg.RelayBackoffMax(),
	}
	if len(cfg.WebSocket.AllowedOrigins) > 0 {
		sc.CheckOrigin = server.AllowOrigins(cfg.WebSocket.AllowedOrigins...)
	}
	return sc
}
