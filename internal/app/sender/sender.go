// Package sender собирает процесс, который рассылает письма по событиям консультаций.
package sender

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/consultation-service/internal/config"
	"github.com/magabrotheeeer/consultation-service/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/lib/smtp"
	senderservice "github.com/magabrotheeeer/consultation-service/internal/services/sender"
	"github.com/magabrotheeeer/consultation-service/internal/storage"
)

// App представляет приложение рассылки.
type App struct {
	db            *storage.Storage
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.SenderService
	logger        *slog.Logger
}

// New подключает хранилище, брокер и SMTP-транспорт.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetConsultationQueues())
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)
	senderService := senderservice.NewSenderService(db, logger, transport)

	return &App{
		db:            db,
		conn:          conn,
		ch:            ch,
		senderService: senderService,
		logger:        logger,
	}, nil
}

// Run подписывается на очереди и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.RatingReminderQueue, a.senderService.SendRatingReminder, a.logger)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", rabbitmq.RatingReminderQueue), sl.Err(err))
		return err
	}

	err = rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.ArchiveQueue, a.senderService.SendDispositionReceipt, a.logger)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", rabbitmq.ArchiveQueue), sl.Err(err))
		return err
	}

	<-ctx.Done()
	a.logger.Info("sender service shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}

	return nil
}
