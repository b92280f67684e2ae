// cmd/historian/main.go drains the Redis action and session queues into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/roomservice/internal/cache"
	"github.com/jason-s-yu/roomservice/internal/config"
	"github.com/jason-s-yu/roomservice/internal/database"
	"github.com/jason-s-yu/roomservice/internal/historian"
	"github.com/jason-s-yu/roomservice/internal/observability"
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

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("postgres")
	}
	defer pool.Close()

	rdb, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Fatal("redis")
	}
	defer rdb.Close()

	svc := historian.New(
		cache.NewActionQueue(rdb, cfg.Redis.ActionQueue),
		cache.NewSessionQueue(rdb, cfg.Redis.SessionQueue),
		database.NewStore(pool),
		cfg.Historian,
		logger.WithFields(logrus.Fields{"service": "historian"}),
	)
	if err := svc.Run(ctx); err != nil {
		logger.WithError(err).Error("historian exited")
		return
	}
	logger.Info("historian shutdown complete")
}
