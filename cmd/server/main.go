package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/auth"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/config"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/database"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/handler/health"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/migrations"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/presence"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/server"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	version, err := migrations.Version(db)
	if err != nil {
		return err
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath, "schema_version", version)

	checks := map[string]health.Checker{"sqlite": dbChecker{db}}

	// --- Broadcast ---
	var channel broadcast.Channel
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis, broadcasting over pub/sub")
		channel = broadcast.NewRedisChannel(rdb, logger)
		checks["redis"] = redisChecker{rdb}
	} else {
		logger.Info("no REDIS_URL, broadcasting in process")
		channel = broadcast.NewBroker()
	}

	// --- Engine ---
	st := store.NewSQLiteStore(db)
	tracker := presence.NewTracker(presence.Options{
		Timeout:       cfg.PresenceTimeout,
		SweepInterval: cfg.PresenceSweepInterval,
		Logger:        logger,
		OnChange:      engine.PresencePublisher(ctx, channel, logger),
	})
	if err := tracker.Start(ctx); err != nil {
		return err
	}
	defer tracker.Stop()

	svc := engine.New(engine.Options{
		Store:     st,
		Publisher: channel,
		Presence:  tracker,
		Logger:    logger,
	})
	verifier := auth.NewVerifier(cfg.JWTSecret)

	if cfg.SeedDemo {
		if err := server.SeedDemo(ctx, logger, st, svc, verifier); err != nil {
			return fmt.Errorf("seeding demo data: %w", err)
		}
	}

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Engine:      svc,
		Channel:     channel,
		Verifier:    verifier,
		Checks:      checks,
		CORSOrigins: cfg.CORSOrigins,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// dbChecker adapts *sql.DB to health.Checker.
type dbChecker struct{ db *sql.DB }

func (d dbChecker) Check(ctx context.Context) error { return d.db.PingContext(ctx) }

// redisChecker adapts *redis.Client to health.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }
