package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Spok95/pipe-catalog/internal/bot"
	"github.com/Spok95/pipe-catalog/internal/config"
	"github.com/Spok95/pipe-catalog/internal/infra/db"
	httpx "github.com/Spok95/pipe-catalog/internal/infra/http"
	"github.com/Spok95/pipe-catalog/internal/infra/lock"
	"github.com/Spok95/pipe-catalog/internal/infra/logger"
	"github.com/Spok95/pipe-catalog/internal/infra/memstore"
	"github.com/Spok95/pipe-catalog/internal/infra/metrics"
	"github.com/Spok95/pipe-catalog/internal/infra/pgstore"
	"github.com/Spok95/pipe-catalog/internal/ingest"
	"github.com/Spok95/pipe-catalog/internal/pricing"
	"github.com/Spok95/pipe-catalog/internal/reconcile"
)

// backend: каталог и очередь дельт в одном хранилище.
type backend interface {
	reconcile.Store
	ingest.Sink
	pricing.Catalog
	httpx.Catalog
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (backend, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), func() {}, nil
	case "", "postgres":
		if err := db.Migrate(cfg.Postgres.DSN); err != nil {
			return nil, nil, err
		}
		log.Info("migrations applied")
		pool, err := db.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		log.Info("db connected")
		return pgstore.New(pool), pool.Close, nil
	}
	return nil, nil, errors.New("unknown store.driver " + cfg.Store.Driver)
}

func openLocker(ctx context.Context, cfg config.Config, log *slog.Logger) (lock.Locker, func()) {
	if cfg.Redis.Addr == "" {
		return lock.NewLocal(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, sweeps are locked per process", "addr", cfg.Redis.Addr, "err", err)
		_ = rdb.Close()
		return lock.NewLocal(), func() {}
	}
	log.Info("redis connected", "addr", cfg.Redis.Addr)
	return lock.NewRedis(rdb), func() { _ = rdb.Close() }
}

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Error("store init failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	locker, closeLocker := openLocker(ctx, cfg, log)
	defer closeLocker()

	m := metrics.New(prometheus.DefaultRegisterer)
	proc := reconcile.New(store, log,
		reconcile.WithLocker(locker),
		reconcile.WithMetrics(m),
		reconcile.WithLockTTL(cfg.Sync.LockTTL),
	)
	calc := pricing.NewCalculator(store, m)
	ing := ingest.NewService(store, log)
	loc := cfg.Location()

	api := &httpx.API{
		Catalog:   store,
		Ingest:    ing,
		Sync:      proc,
		Pricing:   calc,
		Log:       log,
		Metrics:   cfg.Metrics.Enabled,
		Retention: cfg.Sync.Retention,
		Location:  loc,
	}
	srv := httpx.New(cfg.HTTP.Addr, api.Router())
	go func() {
		if err := srv.Start(); err != nil {
			log.Error("http server error", "err", err)
			stop()
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	go func() {
		_ = reconcile.NewRunner(proc, log, cfg.Sync.Interval, cfg.Sync.Retention).Run(ctx)
	}()
	if cfg.Sync.Interval > 0 {
		log.Info("scheduled sync enabled", "interval", cfg.Sync.Interval, "retention", cfg.Sync.Retention)
	}

	if cfg.Telegram.Token != "" {
		tg, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Error("telegram init failed", "err", err)
		} else {
			log.Info("telegram bot authorized", "username", tg.Self.UserName)
			b := bot.New(tg, log, cfg.Telegram.AdminChatID, proc, ing, calc, loc, cfg.Sync.Retention)
			go func() {
				if err := b.Run(ctx, 60); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("bot stopped", "err", err)
				}
			}()
		}
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
