package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"wallet-reconciler/config"
	"wallet-reconciler/internal/adapter/chain"
	"wallet-reconciler/internal/adapter/events/kafka"
	"wallet-reconciler/internal/adapter/events/webhook"
	"wallet-reconciler/internal/adapter/storage/memory"
	pgStorage "wallet-reconciler/internal/adapter/storage/postgres"
	redisStorage "wallet-reconciler/internal/adapter/storage/redis"
	sqliteStorage "wallet-reconciler/internal/adapter/storage/sqlite"
	"wallet-reconciler/internal/core/ports"
	"wallet-reconciler/internal/service"
	"wallet-reconciler/pkg/logger"
	"wallet-reconciler/pkg/tracing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	memoryDedupeBytes = 8 << 20
	webhookDrainWait  = 5 * time.Second
)

// app is the wired object graph shared by all commands.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	store      ports.WalletStore
	mnemonic   *service.MnemonicServiceImpl
	reconciler *service.ReconciliationServiceImpl
	wallets    *service.WalletServiceImpl
	exports    *service.ExportServiceImpl

	redis    *goredis.Client // nil unless redis.enabled
	checkers []ports.HealthChecker
	closers  []func() error
}

// newApp connects the configured backends. Everything opened is released by close, also
// when newApp fails halfway.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := a.initLogger(); err != nil {
		return nil, err
	}

	shutdown, err := tracing.Init(ctx, tracing.Config{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}

	var (
		lease  ports.ReconcileLease
		dedupe ports.ImportDedupe
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, a.log)
		if err != nil {
			return nil, err
		}
		a.redis = rdb
		a.closers = append(a.closers, rdb.Close)
		a.checkers = append(a.checkers, redisStorage.NewHealthCheck(rdb))
		lease = redisStorage.NewLeaseStore(rdb)
		dedupe = redisStorage.NewImportDedupe(rdb)
	} else {
		mem, err := memory.NewImportDedupe(memoryDedupeBytes)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { mem.Close(); return nil })
		dedupe = mem
	}

	chains, err := chain.Build(cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { chains.Close(); return nil })
	adapters := chains.Adapters

	a.mnemonic = service.NewMnemonicService(service.NewBIP39Lexicon())
	a.reconciler = service.NewReconciliationService(adapters, a.store, lease, service.ReconcileOptions{
		Workers:     cfg.Reconcile.Workers,
		CallTimeout: cfg.Reconcile.CallTimeout,
		LeaseTTL:    cfg.Reconcile.LeaseTTL,
	}, a.log)

	if cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		a.reconciler.WithPublisher(pub)
	}
	if cfg.Webhook.URL != "" {
		notifier := webhook.NewNotifier(webhook.Config{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.Webhook.Timeout,
			Retries: cfg.Webhook.Retries,
		}, service.NewHMACSignatureService(), nil, a.log)
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), webhookDrainWait)
			defer cancel()
			return notifier.Close(ctx)
		})
		a.reconciler.WithPublisher(notifier)
	}

	a.wallets = service.NewWalletService(adapters, a.mnemonic, a.reconciler, a.store, dedupe, service.WalletOptions{
		RequireChecksum: cfg.Mnemonic.RequireChecksum,
		ImportTTL:       cfg.Reconcile.ImportTTL,
	}, a.log)
	a.exports = service.NewExportService(a.store, a.log)
	return a, nil
}

func (a *app) initLogger() error {
	if a.cfg.Log.File == "" {
		a.log = logger.New(a.cfg.Log.Level, a.cfg.Log.Pretty)
		return nil
	}
	log, closer, err := logger.NewWithFile(a.cfg.Log.Level, a.cfg.Log.Pretty, logger.FileOptions{
		Path:   a.cfg.Log.File,
		MaxAge: a.cfg.Log.MaxAge,
	})
	if err != nil {
		return err
	}
	a.log = log
	a.closers = append(a.closers, closer.Close)
	return nil
}

func (a *app) initStore(ctx context.Context) error {
	driver := a.cfg.Storage.Driver
	if driver == "memory" {
		a.log.Warn().Msg("memory storage driver: wallets are lost when the process exits")
		a.store = memory.NewWalletStore()
		return nil
	}

	sealer, err := service.NewAESSecretSealer(a.cfg.AES.Key)
	if err != nil {
		return fmt.Errorf("aes.key is required for the %s driver: %w", driver, err)
	}

	switch driver {
	case "postgres":
		pool, err := pgStorage.NewPool(ctx, a.cfg.Database, a.log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := pgStorage.Migrate(ctx, pool); err != nil {
			return err
		}
		a.store = pgStorage.NewWalletRepo(pool, sealer)
		a.checkers = append(a.checkers, pgStorage.NewHealthCheck(pool))
	case "sqlite":
		db, err := sqliteStorage.Open(ctx, a.cfg.Storage.SQLitePath, a.log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if err := sqliteStorage.Migrate(ctx, db); err != nil {
			return err
		}
		a.store = sqliteStorage.NewWalletRepo(db, sealer)
		a.checkers = append(a.checkers, sqliteStorage.NewHealthCheck(db))
	default:
		return fmt.Errorf("unknown storage driver %q", driver)
	}
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openOutput returns stdout for "" or "-", else a created file.
func openOutput(stdout io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
