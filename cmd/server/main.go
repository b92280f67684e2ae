// cmd/server/main.go
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

	"github.com/jason-s-yu/roomservice/internal/cache"
	"github.com/jason-s-yu/roomservice/internal/config"
	"github.com/jason-s-yu/roomservice/internal/database"
	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/jason-s-yu/roomservice/internal/handlers"
	"github.com/jason-s-yu/roomservice/internal/observability"
	"github.com/jason-s-yu/roomservice/internal/room"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	sink, actions, closeStores, err := wirePersistence(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	dir := room.NewDirectory(room.DirectoryOptions{
		Factories:      room.DefaultFactories(),
		ReconnectGrace: cfg.Rooms.ReconnectGrace,
		EmptyGrace:     cfg.Rooms.EmptyGrace,
		IDLength:       cfg.Rooms.IDLength,
		IDAlphabet:     cfg.Rooms.IDAlphabet,
		Sink:           sink,
		Actions:        actions,
		Logger:         logrus.NewEntry(logger),
		SendTimeout:    cfg.Websocket.WriteTimeout,
		PersistTimeout: cfg.Persistence.Timeout,
	})
	defer dir.Shutdown()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handlers.NewRouter(logger, dir, cfg.Websocket, time.Now),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// wirePersistence builds the session sink and action log for the configured
// mode. The returned func releases any pools or clients it opened.
func wirePersistence(ctx context.Context, cfg config.Config, logger *logrus.Logger) (game.Sink, game.ActionLog, func(), error) {
	log := logger.WithField("persistence", cfg.Persistence.Mode)
	switch cfg.Persistence.Mode {
	case config.PersistDirect:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("persisting sessions to postgres")
		store := database.NewStore(pool)
		return store, store, pool.Close, nil

	case config.PersistQueue:
		rdb, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("queueing sessions to redis")
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				log.WithError(err).Warn("redis close")
			}
		}
		return cache.NewSessionQueue(rdb, cfg.Redis.SessionQueue), cache.NewActionQueue(rdb, cfg.Redis.ActionQueue), closeFn, nil

	default:
		entry := logrus.NewEntry(logger)
		return game.LogSink{Logger: entry}, game.NopActionLog{}, func() {}, nil
	}
}
