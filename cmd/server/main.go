package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/agustinlozano/ur-partner-realtime/internal/app"
	"github.com/agustinlozano/ur-partner-realtime/internal/directory"
	httpx "github.com/agustinlozano/ur-partner-realtime/internal/http"
	"github.com/agustinlozano/ur-partner-realtime/internal/realtime"
	"github.com/agustinlozano/ur-partner-realtime/internal/store"
	"github.com/agustinlozano/ur-partner-realtime/internal/transport"
	"github.com/agustinlozano/ur-partner-realtime/internal/ws"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := app.NewLogger(cfg.Env)
	logger.Info("config.loaded", "config", cfg.Redacted())

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server.exit", "err", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg app.Config, logger *slog.Logger) (store.RoomStore, error) {
	if cfg.RoomStore == app.StoreSQLite {
		lite, err := store.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return lite, nil
	}
	pg, err := store.NewPostgres(ctx, cfg.PGURL, cfg.PGMaxConn, logger)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	return pg, nil
}

func run(ctx context.Context, cfg app.Config, logger *slog.Logger) error {
	rooms, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rooms.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	dir := directory.NewRedis(rdb, cfg.DirectoryTTL, logger)

	g, gctx := errgroup.WithContext(ctx)

	// Sockets are either ours (hub + redis relay) or a managed gateway's
	var (
		sender transport.Sender
		hub    *ws.Hub
	)
	switch cfg.Transport {
	case app.TransportGateway:
		sender = transport.NewHTTPSender(cfg.GatewayEndpoint, nil)
	default:
		bus := ws.NewRedisBus(gctx, rdb, logger)
		defer bus.Close()
		hub = ws.NewHub(logger, bus, cfg.SendQueue)
		sender = hub
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
	}

	state := realtime.NewRooms(rooms, logger)
	router := realtime.NewRouter(state, realtime.NewEngine(dir, sender, logger), dir, logger)
	life := realtime.NewLifecycle(dir, state, logger)

	deps := httpx.Deps{
		Rooms: &httpx.RoomsAPI{Rooms: state, Log: logger},
		Probes: []httpx.Probe{
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
			{Name: "store", Check: rooms.Ping},
		},
	}
	if hub != nil {
		deps.WS = hub.ServeWS(life, router)
	} else {
		deps.Gateway = &httpx.GatewayAPI{Sessions: life, Events: router, Log: logger}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(cfg, logger, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("server.listening", "addr", cfg.HTTPAddr, "transport", cfg.Transport, "store", cfg.RoomStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Wait for shutdown signal
		<-gctx.Done()
		logger.Info("server.shutdown.start")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server.shutdown.complete")
	return err
}
