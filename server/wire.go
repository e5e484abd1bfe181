package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/engine"
	"github.com/meikuraledutech/flow/lock"
	"github.com/meikuraledutech/flow/mail"
	"github.com/meikuraledutech/flow/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newLogger(cfg LogConfig, out io.Writer) zerolog.Logger {
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// deps is everything a command needs, built from the config.
type deps struct {
	cfg      Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	admin    *pgxpool.Pool
	redis    *redis.Client
	store    *postgres.PGStore
	notes    *postgres.NotificationWriter
	registry *prometheus.Registry
	engine   *engine.Engine
}

func open(ctx context.Context, cfg Config) (*deps, error) {
	d := &deps{cfg: cfg, logger: newLogger(cfg.Log, os.Stderr)}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	d.pool = pool
	d.store = postgres.New(pool)

	d.admin = pool
	if cfg.AdminDatabaseURL != cfg.DatabaseURL {
		if d.admin, err = pgxpool.New(ctx, cfg.AdminDatabaseURL); err != nil {
			d.Close()
			return nil, fmt.Errorf("connect admin: %w", err)
		}
	}
	d.notes = postgres.NewNotificationWriter(d.admin)

	var mailer flow.Mailer = mail.NewLog(d.logger.With().Str("component", "mail").Logger())
	if cfg.SMTP.Host != "" {
		smtp, err := mail.NewSMTP(mail.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			d.Close()
			return nil, err
		}
		mailer = smtp
	}

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []engine.Option{
		engine.WithLogger(d.logger.With().Str("component", "engine").Logger()),
		engine.WithMetrics(engine.NewMetrics(d.registry)),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithPaceDelay(cfg.Engine.PaceDelay),
	}
	if cfg.Redis.Addr != "" {
		d.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := d.redis.Ping(ctx).Err(); err != nil {
			d.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		lockOpts := []lock.Option{lock.WithLogger(d.logger.With().Str("component", "lock").Logger())}
		if cfg.Redis.LeaseTTL > 0 {
			lockOpts = append(lockOpts, lock.WithTTL(cfg.Redis.LeaseTTL))
		}
		opts = append(opts, engine.WithLocker(lock.NewRedis(d.redis, lockOpts...)))
	}

	d.engine = engine.New(d.store, d.notes, mailer, opts...)
	return d, nil
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.admin != nil && d.admin != d.pool {
		d.admin.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}
