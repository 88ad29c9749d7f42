// Package core собирает общие для процессов зависимости: хранилище, Redis,
// реестр присутствия, маршрутизатор каналов и машину состояний консультаций.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/consultation-service/internal/cache"
	"github.com/magabrotheeeer/consultation-service/internal/config"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/metrics"
	"github.com/magabrotheeeer/consultation-service/internal/services/channel"
	"github.com/magabrotheeeer/consultation-service/internal/services/consultation"
	"github.com/magabrotheeeer/consultation-service/internal/services/directory"
	"github.com/magabrotheeeer/consultation-service/internal/services/ledger"
	"github.com/magabrotheeeer/consultation-service/internal/services/presence"
	"github.com/magabrotheeeer/consultation-service/internal/storage"
)

// Core зависимости сервиса консультаций.
type Core struct {
	Storage      *storage.Storage
	Cache        *cache.Cache
	Presence     *presence.Registry
	Router       *channel.Router
	Ledger       *ledger.Service
	Directory    *directory.Service
	Consultation *consultation.Service
	log          *slog.Logger
}

// WaitForDB ждёт, пока миграции создадут схему.
func WaitForDB(ctx context.Context, db *storage.Storage, attempts int, delay time.Duration) error {
	for range attempts {
		if err := storage.CheckDatabaseReady(db); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("database not ready after %d attempts", attempts)
}

// New подключается к PostgreSQL и Redis и собирает сервисы.
// db уже открыт вызывающим, чтобы тот мог прогнать миграции до сборки.
func New(ctx context.Context, cfg *config.Config, db *storage.Storage, lifecycle consultation.LifecyclePublisher, m *metrics.Metrics, log *slog.Logger) (*Core, error) {
	const op = "core.New"

	redisCache, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	registry := presence.New(redisCache.Client, log)
	router := channel.NewRouter(channel.NewRedisTransport(redisCache.Client), m, log)
	ledgerService := ledger.New(db, log)
	directoryService := directory.New(db, redisCache, registry, cfg.PriceCacheTTL, log)

	consultationService := consultation.New(consultation.Deps{
		Repo:      db,
		Ledger:    ledgerService,
		Presence:  registry,
		Directory: directoryService,
		Channels:  router,
		Lifecycle: lifecycle,
		Metrics:   m,
	}, log)

	return &Core{
		Storage:      db,
		Cache:        redisCache,
		Presence:     registry,
		Router:       router,
		Ledger:       ledgerService,
		Directory:    directoryService,
		Consultation: consultationService,
		log:          log,
	}, nil
}

// Close закрывает Redis и PostgreSQL.
func (c *Core) Close() {
	if err := c.Cache.Close(); err != nil {
		c.log.Error("failed to close redis", sl.Err(err))
	}
	if err := c.Storage.Close(); err != nil {
		c.log.Error("failed to close storage", sl.Err(err))
	}
}
