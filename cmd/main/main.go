package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"laserstream-relay/src/cache"
	"laserstream-relay/src/config"
	datasource "laserstream-relay/src/data_source"
	"laserstream-relay/src/grpc_control"
	"laserstream-relay/src/helpers"
	"laserstream-relay/src/ingest"
	"laserstream-relay/src/interfaces"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/network"
	"laserstream-relay/src/server"
	"laserstream-relay/src/sink"
	"laserstream-relay/src/storage"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Exit codes: operator mistakes differ from runtime failures.
const (
	exitFatal  = 1
	exitConfig = 2
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "", "path to config file (defaults + environment when empty)")
	flag.Parse()

	// Load config from YAML file and environment
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(exitCode(err))
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.MConfig, cfg.Name)

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("Relay stopped: %v", err)
		os.Exit(exitCode(err))
	}
	appLogger.Info("Shutdown complete.")
}

// exitCode maps a terminal error onto the process exit status.
func exitCode(err error) int {
	if helpers.IsConfigurationError(err) {
		return exitConfig
	}
	return exitFatal
}

// -----------------------------------------------------------------------------

func run(cfg *config.Config, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Upstream feed
	nm, err := network.NewNetworkManager(&cfg.Network, appLogger.Named("Network"))
	if err != nil {
		return err
	}
	registry := datasource.NewFeedRegistry(appLogger.Named("FeedRegistry"))
	feed, err := registry.Build(cfg.Upstream, nm)
	if err != nil {
		return err
	}

	// 2. Cache and fan-out
	latest := cache.NewLatestState()
	hub := server.NewBroadcaster(cfg.Broadcast.MailboxSize, latest, appLogger.Named("Broadcaster"))

	g, gctx := errgroup.WithContext(ctx)

	publishers := []interfaces.IPublisher{hub}
	if cfg.Redis.URL != "" {
		mirror, err := sink.NewRedisMirror(cfg.Redis, appLogger.Named("RedisMirror"))
		if err != nil {
			return helpers.NewConfigurationError("%v", err)
		}
		defer mirror.Close()
		publishers = append(publishers, mirror)
		g.Go(func() error { return mirror.Run(gctx) })
	}

	// 3. Checkpoint store (optional)
	store, err := storage.NewCheckpointStore(cfg.MConfig, appLogger.Named("Storage"))
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize checkpoint store: %w", err)
		}
		defer store.Close()

		interval := time.Duration(cfg.Storage.CheckpointIntervalSeconds) * time.Second
		checkpointer := storage.NewCheckpointer(store, cfg.Upstream.Origin(), latest, interval, appLogger.Named("Checkpointer"))
		if err := checkpointer.Seed(ctx); err != nil {
			appLogger.Warning("Could not restore checkpoint: %v", err)
		}
		g.Go(func() error { return checkpointer.Run(gctx) })
	}

	// 4. Ingester
	ingester := ingest.NewIngester(
		feed,
		cfg.Upstream.Filter(),
		latest,
		sink.NewTee(publishers...),
		cfg.ReconnectPolicy(),
		appLogger.Named("Ingester"),
	)

	// 5. gRPC health (optional)
	if cfg.GrpcPort > 0 {
		control := grpc_control.NewControlService(cfg.MConfig, appLogger.Named("gRPC"))
		ingester.OnStateChange = control.SetIngesterState
		g.Go(control.Start)
		g.Go(func() error {
			<-gctx.Done()
			control.Stop()
			return nil
		})
	}

	// 6. HTTP / WebSocket surface
	srv := server.NewRelayServer(gctx, cfg.MConfig, latest, hub, ingester, appLogger.Named("Server"))
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if cfg.StartOnBoot {
		ingester.EnsureStarted(gctx)
	}

	// A spent reconnect budget takes the whole relay down.
	g.Go(func() error {
		select {
		case err := <-ingester.Fatal():
			return err
		case <-gctx.Done():
			return nil
		}
	})

	appLogger.Info("Relay %s listening on %s:%d (upstream %s)", cfg.Name, cfg.Host, cfg.Port, feed.Name())

	err = g.Wait()
	ingester.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
