// Package events реализует SSE-поток личного канала врача: объявления о новых консультациях.
package events

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/http/sse"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
	"github.com/magabrotheeeer/consultation-service/internal/services/channel"
)

// Handler держит открытый поток событий врача.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает подписку на канал врача.
type Service interface {
	DoctorEvents(ctx context.Context, actor models.Actor) (*channel.Subscription, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Поток событий врача
// @Description text/event-stream с событиями session_started для текущего врача.
// @Tags Presence
// @Produce text/event-stream
// @Security BearerAuth
// @Success 200 {string} string "поток событий"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Доступно только врачу"
// @Failure 503 {object} response.ErrorResponse "Канал недоступен"
// @Router /presence/events [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.presence.events"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	actor, ok := middlewarectx.ActorFromContext(r.Context())
	if !ok {
		log.Error("actor not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	sub, err := h.service.DoctorEvents(r.Context(), actor)
	if err != nil {
		log.Error("failed to subscribe", sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	defer sub.Close()

	sw, err := sse.Start(w)
	if err != nil {
		log.Error("failed to start stream", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("streaming unsupported"))
		return
	}

	log.Info("doctor stream opened", slog.String("doctor_id", actor.UserID))
	sse.Pump(r.Context(), sw, nil, sub, log)
	log.Info("doctor stream closed")
}
