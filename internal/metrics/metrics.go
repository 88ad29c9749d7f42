// Package metrics содержит счетчики Prometheus сервиса консультаций.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics набор метрик консультаций. Нулевое значение не используется, создавайте через New.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsRejected  *prometheus.CounterVec
	SessionsEnded     *prometheus.CounterVec
	SessionsDisposed  *prometheus.CounterVec
	MessagesSent      prometheus.Counter
	Refunds           prometheus.Counter
	ActiveSessions    prometheus.Gauge
	ChannelSubscribed prometheus.Gauge
}

// New регистрирует метрики в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consultation",
			Name:      "sessions_started_total",
			Help:      "Consultations that reached the active state.",
		}),
		SessionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consultation",
			Name:      "sessions_rejected_total",
			Help:      "Consultation requests rejected before activation.",
		}, []string{"reason"}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consultation",
			Name:      "sessions_ended_total",
			Help:      "Consultations ended, by the role that ended them.",
		}, []string{"ended_by"}),
		SessionsDisposed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consultation",
			Name:      "sessions_disposed_total",
			Help:      "Consultations disposed, by decision.",
		}, []string{"decision"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consultation",
			Name:      "messages_sent_total",
			Help:      "Chat messages appended to consultations.",
		}),
		Refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consultation",
			Name:      "refunds_total",
			Help:      "Debits compensated by a refund.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consultation",
			Name:      "active_sessions",
			Help:      "Consultations currently active in this process.",
		}),
		ChannelSubscribed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consultation",
			Name:      "channel_subscriptions",
			Help:      "Open real-time channel subscriptions.",
		}),
	}

	reg.MustRegister(
		m.SessionsStarted,
		m.SessionsRejected,
		m.SessionsEnded,
		m.SessionsDisposed,
		m.MessagesSent,
		m.Refunds,
		m.ActiveSessions,
		m.ChannelSubscribed,
	)
	return m
}

// NewNop возвращает метрики, не зарегистрированные ни в одном реестре. Используется в тестах.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// OnlineDoctors gauge, который при каждом сборе спрашивает число врачей онлайн
// у общего реестра присутствия. Ошибка реестра отдаётся как -1.
func OnlineDoctors(count func(ctx context.Context) (int64, error)) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "consultation",
		Name:      "online_doctors",
		Help:      "Doctors currently online across all instances.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := count(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	})
}
