package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/electr1fy0/cardsync/internal/config"
	"github.com/electr1fy0/cardsync/internal/logger"
	"github.com/electr1fy0/cardsync/internal/relay"
)

type settings struct {
	Log   logger.Config
	Relay relay.Config
}

func main() {
	var cfg settings
	config.MustLoad(&cfg)

	log := logger.New(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.Error("relay stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg settings, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bp, closeBackplane, err := backplane(ctx, cfg.Relay, log)
	if err != nil {
		return err
	}
	defer closeBackplane()

	manager := relay.NewManager(cfg.Relay, bp, relay.WithLogger(log.With(logger.Component("relay"))))
	if err := manager.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Relay.Port,
		Handler:           relay.NewRouter(manager),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting the server", "port", cfg.Relay.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// backplane connects to Redis when REDIS_URL is set and falls back to an
// in-process backplane otherwise.
func backplane(ctx context.Context, cfg relay.Config, log *slog.Logger) (relay.Backplane, func(), error) {
	if cfg.RedisURL == "" {
		log.Info("no REDIS_URL, fanning out in memory only")
		return relay.NewMemoryBackplane(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return relay.NewRedisBackplane(rdb, cfg.Topic), func() { _ = rdb.Close() }, nil
}
