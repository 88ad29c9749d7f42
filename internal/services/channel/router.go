// Package channel маршрутизирует события реального времени по каналам
// консультаций (chat.<sessionId>) и врачей (doctor.<doctorId>).
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/metrics"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// SessionTopic канал консультации.
func SessionTopic(sessionID string) string { return "chat." + sessionID }

// DoctorTopic личный канал врача.
func DoctorTopic(doctorID string) string { return "doctor." + doctorID }

// Router публикует и раздает типизированные события поверх Transport.
type Router struct {
	transport Transport
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// NewRouter создает новый экземпляр Router.
func NewRouter(transport Transport, m *metrics.Metrics, log *slog.Logger) *Router {
	return &Router{
		transport: transport,
		metrics:   m,
		log:       log,
	}
}

// Publish отправляет событие в канал. Ошибка транспорта оборачивает models.ErrChannelUnavailable.
func (r *Router) Publish(ctx context.Context, topic string, event models.Event) error {
	const op = "channel.Publish"

	payload, err := models.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.transport.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("%s: %w: %w", op, models.ErrChannelUnavailable, err)
	}
	return nil
}

// PublishToSession отправляет событие в канал консультации.
func (r *Router) PublishToSession(ctx context.Context, sessionID string, event models.Event) error {
	return r.Publish(ctx, SessionTopic(sessionID), event)
}

// PublishToDoctor отправляет событие в канал врача.
func (r *Router) PublishToDoctor(ctx context.Context, doctorID string, event models.Event) error {
	return r.Publish(ctx, DoctorTopic(doctorID), event)
}

// Subscribe открывает подписку на канал и сразу начинает выдачу событий.
// Подписку обязательно закрыть через Close.
func (r *Router) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	sub, err := r.SubscribeDeferred(ctx, topic)
	if err != nil {
		return nil, err
	}
	sub.Start()
	return sub, nil
}

// SubscribeDeferred открывает подписку, но не выдает события до Start.
// Пока подписка не запущена, транспорт копит события, так что между
// подпиской и догрузкой истории ничего не теряется.
func (r *Router) SubscribeDeferred(ctx context.Context, topic string) (*Subscription, error) {
	const op = "channel.Subscribe"

	stream, err := r.transport.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrChannelUnavailable, err)
	}

	r.metrics.ChannelSubscribed.Inc()
	return &Subscription{
		stream:  stream,
		events:  make(chan models.Event),
		done:    make(chan struct{}),
		seen:    make(map[string]struct{}),
		metrics: r.metrics,
		log:     r.log.With(slog.String("topic", topic)),
	}, nil
}

// Subscription поток событий одного канала.
//
// Сообщение с уже выданным ID отбрасывается, поэтому повторная публикация при
// ретрае отправителя не дублируется. После SessionEnded поток закрывается.
type Subscription struct {
	stream  Stream
	events  chan models.Event
	done    chan struct{}
	start   sync.Once
	once    sync.Once
	metrics *metrics.Metrics
	log     *slog.Logger

	seen map[string]struct{}
}

// Events канал событий. Закрывается после SessionEnded, Close или обрыва транспорта.
func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

// Start запускает выдачу событий. delivered: ID сообщений, которые подписчик
// уже получил из истории. Повторный вызов ничего не делает.
func (s *Subscription) Start(delivered ...string) {
	s.start.Do(func() {
		for _, id := range delivered {
			s.seen[id] = struct{}{}
		}
		go s.run()
	})
}

// Close освобождает подписку. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if err := s.stream.Close(); err != nil {
			s.log.Warn("failed to close stream", sl.Err(err))
		}
		s.metrics.ChannelSubscribed.Dec()
		// не запущенная подписка закрывает events сама
		s.start.Do(func() { close(s.events) })
	})
}

func (s *Subscription) run() {
	defer close(s.events)
	for {
		var payload []byte
		select {
		case p, ok := <-s.stream.C():
			if !ok {
				return
			}
			payload = p
		case <-s.done:
			return
		}

		event, err := models.DecodeEvent(payload)
		if err != nil {
			s.log.Warn("dropping undecodable event", sl.Err(err))
			continue
		}
		if !s.fresh(event) {
			continue
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
		if event.Kind() == models.EventSessionEnded {
			return
		}
	}
}

// fresh вызывается только из run, seen не требует блокировки.
func (s *Subscription) fresh(event models.Event) bool {
	msg, ok := event.(models.MessageEvent)
	if !ok {
		return true
	}
	if _, dup := s.seen[msg.Message.ID]; dup {
		return false
	}
	s.seen[msg.Message.ID] = struct{}{}
	return true
}
