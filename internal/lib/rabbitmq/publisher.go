package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Channel часть *amqp.Channel, нужная для публикации.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishMessage публикует сообщение в RabbitMQ.
func PublishMessage(ch Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// LifecyclePublisher публикует события жизненного цикла консультаций в ExchangeName.
// Канал amqp не рассчитан на конкурентную публикацию, поэтому вызовы сериализуются.
type LifecyclePublisher struct {
	mu sync.Mutex
	ch Channel
}

// NewLifecyclePublisher создаёт издателя поверх открытого канала.
func NewLifecyclePublisher(ch Channel) *LifecyclePublisher {
	return &LifecyclePublisher{ch: ch}
}

// PublishLifecycle публикует событие с ключом маршрутизации, равным его типу.
func (p *LifecyclePublisher) PublishLifecycle(ctx context.Context, event models.LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublishMessage(p.ch, ExchangeName, event.Type, event)
}
