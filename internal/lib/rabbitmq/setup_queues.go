package rabbitmq

import "github.com/magabrotheeeer/consultation-service/internal/models"

// ExchangeName exchange событий жизненного цикла консультаций.
const ExchangeName = "consultations"

// QueueConfig очередь и ключ маршрутизации, которым она привязана к ExchangeName.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// Очереди потребителей.
const (
	RatingReminderQueue = "consultation.rating_reminder"
	ArchiveQueue        = "consultation.archive"
)

// GetConsultationQueues возвращает очереди событий консультаций.
func GetConsultationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: RatingReminderQueue, RoutingKey: models.LifecycleEnded},
		{QueueName: ArchiveQueue, RoutingKey: models.LifecycleDisposed},
	}
}
