package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/config"
	"github.com/mihaimyh/billingsync/pkg/reconcile"
	firestoreStorage "github.com/mihaimyh/billingsync/storage/firestore"
	"github.com/mihaimyh/billingsync/storage/memory"
	postgresStorage "github.com/mihaimyh/billingsync/storage/postgres"
	redisStorage "github.com/mihaimyh/billingsync/storage/redis"
	"github.com/mihaimyh/billingsync/storage/tiered"
)

// ledger is an opened event ledger with its release function.
type ledger struct {
	reconcile.Store
	close func()
}

// openLedger builds the event ledger selected by cfg.Backend.
func openLedger(ctx context.Context, cfg config.LedgerConfig, logger billing.Logger) (*ledger, error) {
	if cfg.Backend != config.LedgerTiered {
		return openBackend(ctx, cfg.Backend, cfg, logger)
	}

	hot, err := openBackend(ctx, config.LedgerRedis, cfg, logger)
	if err != nil {
		return nil, err
	}
	cold, err := openBackend(ctx, cfg.ColdBackend, cfg, logger)
	if err != nil {
		hot.close()
		return nil, err
	}
	store, err := tiered.New(tiered.Config{
		Hot:             hot,
		Cold:            cold,
		AsyncColdWrites: cfg.AsyncColdWrites,
		AsyncErrorHandler: func(err error) {
			logger.Error("async ledger write failed", billing.F("error", err))
		},
	})
	if err != nil {
		hot.close()
		cold.close()
		return nil, err
	}
	return &ledger{Store: store, close: func() {
		_ = store.Close()
		hot.close()
		cold.close()
	}}, nil
}

func openBackend(ctx context.Context, backend string, cfg config.LedgerConfig, logger billing.Logger) (*ledger, error) {
	switch backend {
	case config.LedgerMemory:
		return &ledger{Store: memory.New(), close: func() {}}, nil

	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rcfg := redisStorage.DefaultConfig()
		rcfg.RecordTTL = cfg.RecordTTL
		store, err := redisStorage.New(client, rcfg)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("redis ledger: %w", err)
		}
		return &ledger{Store: store, close: func() { _ = store.Close() }}, nil

	case config.LedgerPostgres:
		pcfg := postgresStorage.DefaultConfig()
		pcfg.ConnectionString = cfg.PostgresDSN
		pcfg.RecordTTL = cfg.RecordTTL
		pcfg.CleanupEnabled = cfg.RecordTTL > 0
		pcfg.Logger = logger
		store, err := postgresStorage.New(ctx, pcfg)
		if err != nil {
			return nil, fmt.Errorf("postgres ledger: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("postgres ledger: %w", err)
		}
		return &ledger{Store: store, close: store.Close}, nil

	case config.LedgerFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, fmt.Errorf("firestore ledger: %w", err)
		}
		store, err := firestoreStorage.New(client, firestoreStorage.Config{Collection: cfg.FirestoreCollection})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &ledger{Store: store, close: func() { _ = store.Close() }}, nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", backend)
}
