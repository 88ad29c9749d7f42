package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
)

// Delivery часть amqp.Delivery, нужная для подтверждения.
type Delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// ConsumerMessage создает потребителя сообщений из очереди RabbitMQ.
// Обработка идёт не более чем в 10 горутинах; ошибка обработчика возвращает сообщение в очередь.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, handler func([]byte) error, log *slog.Logger) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	sem := make(chan struct{}, 10)
	go func() {
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					return
				}
				sem <- struct{}{}
				go func(d amqp.Delivery) {
					defer func() { <-sem }()
					handleDelivery(d, d.Body, handler, log.With(slog.String("queue", queueName)))
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func handleDelivery(d Delivery, body []byte, handler func([]byte) error, log *slog.Logger) {
	if err := handler(body); err != nil {
		log.Error("failed to handle message", sl.Err(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		log.Error("failed to ack message", sl.Err(ackErr))
	}
}
