// Package consultation собирает HTTP API сервиса консультаций.
package consultation

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/consultation-service/internal/app/core"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/balance"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/consultation/current"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/consultation/dispose"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/consultation/end"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/consultation/events"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/consultation/list"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/consultation/messages"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/consultation/read"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/consultation/request"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/consultation/send"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/doctors/available"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/health"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/presence/offline"
	"github.com/magabrotheeeer/consultation-service/internal/http/handlers/presence/online"
	presenceevents "github.com/magabrotheeeer/consultation-service/internal/http/handlers/presence/events"
	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// RouteDeps зависимости маршрутов.
type RouteDeps struct {
	Core          *core.Core
	Tokens        middlewarectx.TokenParser
	SendLimiter   *middlewarectx.RateLimiter
	WebhookSecret string
	Gatherer      prometheus.Gatherer
	Checks        map[string]health.Checker
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, deps RouteDeps) {
	svc := deps.Core.Consultation

	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Webhook endpoint (без аутентификации, подпись проверяет обработчик)
		r.Post("/payments/webhook", paymentwebhook.New(logger, deps.Core.Ledger, deps.WebhookSecret).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(deps.Tokens, logger))

			r.Get("/doctors/available", available.New(logger, deps.Core.Directory).ServeHTTP)
			r.Get("/balance", balance.New(logger, deps.Core.Ledger).ServeHTTP)

			r.Route("/presence", func(r chi.Router) {
				r.Use(middlewarectx.RequireRole(models.RoleDoctor, logger))
				r.Post("/online", online.New(logger, svc).ServeHTTP)
				r.Post("/offline", offline.New(logger, svc).ServeHTTP)
				r.Get("/events", presenceevents.New(logger, svc).ServeHTTP)
			})

			r.Route("/consultations", func(r chi.Router) {
				r.With(middlewarectx.RequireRole(models.RolePatient, logger)).
					Post("/", request.New(logger, svc).ServeHTTP)
				r.Get("/", list.New(logger, svc).ServeHTTP)
				r.Get("/current", current.New(logger, svc).ServeHTTP)
				r.Get("/{id}", read.New(logger, svc).ServeHTTP)
				r.With(deps.SendLimiter.Middleware).
					Post("/{id}/messages", send.New(logger, svc).ServeHTTP)
				r.Get("/{id}/messages", messages.New(logger, svc).ServeHTTP)
				r.Post("/{id}/end", end.New(logger, svc).ServeHTTP)
				r.With(middlewarectx.RequireRole(models.RolePatient, logger)).
					Post("/{id}/dispose", dispose.New(logger, svc).ServeHTTP)
				r.Get("/{id}/events", events.New(logger, svc).ServeHTTP)
			})
		})
	})

	r.Get("/health", health.New(logger, deps.Checks).ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
