package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cristianortiz/auctioncoord/internal/auction/application"
	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/cristianortiz/auctioncoord/internal/auction/infra/repository/memory"
	"github.com/cristianortiz/auctioncoord/internal/auction/infra/repository/postgres"
	"github.com/cristianortiz/auctioncoord/internal/auction/infra/repository/sqlite"
	"github.com/cristianortiz/auctioncoord/internal/auction/infra/rpc"
	replication "github.com/cristianortiz/auctioncoord/internal/auction/infra/websocket"
	"github.com/cristianortiz/auctioncoord/internal/shared/config"
	"github.com/cristianortiz/auctioncoord/internal/shared/db"
	"github.com/cristianortiz/auctioncoord/internal/shared/db/migrations"
	"github.com/cristianortiz/auctioncoord/internal/shared/httpserver"
	"github.com/cristianortiz/auctioncoord/internal/shared/logger"
	"github.com/cristianortiz/auctioncoord/internal/shared/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	log := logger.GetLogger()
	defer log.Sync()

	if err := run(*configPath, log); err != nil {
		log.Fatal("Coordinator stopped with error", zap.Error(err))
	}
}

func run(configPath string, log *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Info("Starting auction coordinator...",
		zap.String("nodeID", cfg.NodeID),
		zap.String("eventLog", cfg.EventLog.Driver),
		zap.Strings("peers", cfg.Peers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, release, err := openEventLog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer release()

	registry := application.NewRegistry(cfg.NodeID, events, cfg.Replication.MaxPending)
	replayed, err := registry.Replay(ctx)
	if err != nil {
		return multierr.Append(fmt.Errorf("replay event log: %w", err), events.Close())
	}
	log.Info("Event log replayed", zap.Int("events", replayed), zap.Int("active", len(registry.ListActive(ctx))))

	hub := websocket.NewHub(cfg.Replication.PeerSendBuffer)
	broadcaster := replication.NewBroadcaster(cfg.NodeID, hub, registry, events)
	registry.SetPublisher(broadcaster)

	rpcServer := rpc.NewServer(rpc.NewRouter(registry), rpc.Options{
		RequestTimeout: cfg.RPC.RequestTimeout,
		MaxFrameBytes:  cfg.RPC.MaxFrameBytes,
		QueueSize:      cfg.RPC.QueueSize,
	})
	g, gctx := errgroup.WithContext(ctx)
	httpServer := httpserver.NewServer(gctx, registry, broadcaster, func() any {
		return struct {
			Replication replication.Stats `json:"replication"`
			RPC         rpc.Stats         `json:"rpc"`
		}{broadcaster.Stats(), rpcServer.Stats()}
	})
	dialer := replication.NewDialer(cfg.Peers, broadcaster, cfg.Replication.MaxRedialWait)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		broadcaster.ListenForMessages(gctx)
		return nil
	})
	g.Go(func() error {
		return rpcServer.ListenAndServe(gctx, cfg.RPCAddr)
	})
	g.Go(func() error {
		if err := httpServer.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return dialer.Run(gctx)
	})

	err = g.Wait()
	log.Info("Coordinator shutting down", zap.Error(err))
	return multierr.Combine(err, events.Close())
}

// openEventLog opens the configured backend. release frees what the log
// does not own itself (the postgres pool) and runs after the log is closed.
func openEventLog(ctx context.Context, cfg config.Config, log *zap.Logger) (events domain.EventLog, release func(), err error) {
	release = func() {}
	switch cfg.EventLog.Driver {
	case config.DriverPostgres:
		dsn := cfg.Postgres.DSN()
		log.Info("Running database migrations...")
		if err := migrations.RunPostgres(dsn); err != nil {
			return nil, release, fmt.Errorf("database migration failed: %w", err)
		}
		pool, err := db.GetPostgresDBPool(ctx, dsn)
		if err != nil {
			return nil, release, err
		}
		return postgres.NewEventLog(pool), pool.Close, nil
	case config.DriverMemory:
		log.Warn("Using the in-memory event log: nothing survives a restart")
		return memory.NewEventLog(), release, nil
	default:
		l, err := sqlite.Open(cfg.EventLog.Path)
		if err != nil {
			return nil, release, err
		}
		return l, release, nil
	}
}
