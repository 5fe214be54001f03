package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/cache"
	"github.com/adeilh/rakh-sync/cache/memory"
	"github.com/adeilh/rakh-sync/cache/redis"
	"github.com/adeilh/rakh-sync/config"
	"github.com/adeilh/rakh-sync/db/sql/postgres"
	"github.com/adeilh/rakh-sync/httpx"
	"github.com/adeilh/rakh-sync/logging"
	"github.com/adeilh/rakh-sync/server"
	"github.com/adeilh/rakh-sync/social"
)

const (
	redisKeyPrefix = "rakhsync:"
	sweepInterval  = time.Minute
)

func newServeCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the social API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := openBackend(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer b.Close()

			if watch {
				go a.watchConfig(ctx)
			}

			opts := append(b.options, server.WithHTTPOptions(
				httpx.WithAddress(a.cfg.Server.Address),
				httpx.WithRequestTimeout(a.cfg.GetRequestTimeout()),
				httpx.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
			))
			srv := server.New(b.svc, a.logger, opts...)
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch-config", false, "Apply logging.level changes from the config file without a restart")
	return cmd
}

// watchConfig applies log level changes. Other settings need a restart.
func (a *app) watchConfig(ctx context.Context) {
	err := config.Watch(ctx, a.configPath, a.logger, func(cfg *config.Config) {
		if a.verbose {
			return
		}
		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			a.logger.Warn("ignoring log level", zap.Error(err))
			return
		}
		if level != a.level.Level() {
			a.level.SetLevel(level)
			a.logger.Info("log level changed", zap.Stringer("level", level))
		}
	})
	if err != nil {
		a.logger.Warn("config watch stopped", zap.Error(err))
	}
}

// backend is the service plus the resources it owns.
type backend struct {
	svc     *social.Service
	options []server.Option
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackend builds the repository and response cache selected by cfg.
// Background work stops with ctx.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{}

	var repo social.Repository
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		pg, db, err := postgres.OpenRepository(ctx,
			postgres.WithDSN(cfg.Storage.PostgresDSN),
			postgres.WithPool(postgres.PoolOptions{
				MaxOpen:     cfg.Storage.MaxOpenConns,
				MaxLifetime: cfg.GetConnLifetime(),
			}),
		)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		repo = pg
	default:
		repo = social.NewMemoryRepository()
	}

	var store cache.Store
	switch cfg.Cache.Driver {
	case config.CacheRedis:
		rs := redis.NewStore(redisOptions(cfg, redisKeyPrefix))
		b.closers = append(b.closers, rs.Close)
		b.options = append(b.options, server.WithHealthCheck("cache", rs.Ping))
		store = rs
	case config.CacheMemory:
		ms := memory.NewStore()
		go sweep(ctx, ms)
		store = ms
	}

	svc, err := social.NewService(social.ServiceConfig{
		Repository: repo,
		Cache:      store,
		CacheTTL:   cfg.GetCacheTTL(),
		Logger:     logger,
	})
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.svc = svc
	logger.Info("backend ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("cache", cfg.Cache.Driver),
	)
	return b, nil
}

func redisOptions(cfg *config.Config, prefix string) redis.Options {
	return redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
		Prefix:   prefix,
	}
}

func sweep(ctx context.Context, s *memory.Store) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
