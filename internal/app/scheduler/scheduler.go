// Package scheduler собирает процесс, который откатывает зависшие запросы
// консультаций и завершает простаивающие сессии.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/consultation-service/internal/app/core"
	"github.com/magabrotheeeer/consultation-service/internal/config"
	"github.com/magabrotheeeer/consultation-service/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/metrics"
	schedulerservice "github.com/magabrotheeeer/consultation-service/internal/services/scheduler"
	"github.com/magabrotheeeer/consultation-service/internal/storage"
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.SchedulerService
	core             *core.Core
	conn             *amqp.Connection
	ch               *amqp.Channel
	logger           *slog.Logger
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetConsultationQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	// Схему создаёт API-процесс, планировщик только ждёт её.
	if err := core.WaitForDB(ctx, db, 10, 3*time.Second); err != nil {
		_ = db.Close()
		closeResources(ch, conn, logger)
		return nil, err
	}

	c, err := core.New(ctx, cfg, db, rabbitmq.NewLifecyclePublisher(ch), metrics.New(prometheus.NewRegistry()), logger)
	if err != nil {
		_ = db.Close()
		closeResources(ch, conn, logger)
		return nil, err
	}

	policy := schedulerservice.Policy{
		Interval:       cfg.ReaperInterval,
		RequestTimeout: cfg.RequestTimeout,
		IdleTimeout:    cfg.ActiveIdleTimeout,
	}

	return &App{
		schedulerService: schedulerservice.NewSchedulerService(c.Consultation, policy, logger),
		core:             c,
		conn:             conn,
		ch:               ch,
		logger:           logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.schedulerService.Run(ctx)
	}()

	<-ctx.Done()
	<-done

	a.logger.Info("shutting down scheduler service")
	closeResources(a.ch, a.conn, a.logger)
	a.core.Close()

	return nil
}
