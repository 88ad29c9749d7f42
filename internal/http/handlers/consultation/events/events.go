// Package events реализует SSE-поток канала консультации.
//
// Поток начинается с сообщений, которые клиент ещё не видел (по Last-Event-ID),
// продолжается живыми событиями и закрывается после session_ended.
package events

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/http/sse"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
	"github.com/magabrotheeeer/consultation-service/internal/services/channel"
)

// Handler держит поток событий консультации.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает открытие потока консультации.
type Service interface {
	Stream(ctx context.Context, actor models.Actor, sessionID string, afterSeq int64) ([]models.Event, *channel.Subscription, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Поток событий консультации
// @Description text/event-stream: message (id = seq), затем session_ended. Поддерживает Last-Event-ID.
// @Tags Consultations
// @Produce text/event-stream
// @Security BearerAuth
// @Param id path string true "ID консультации"
// @Param Last-Event-ID header int false "Последний полученный seq"
// @Success 200 {string} string "поток событий"
// @Failure 403 {object} response.ErrorResponse "Не участник"
// @Failure 404 {object} response.ErrorResponse "Не найдена"
// @Failure 503 {object} response.ErrorResponse "Канал недоступен"
// @Router /consultations/{id}/events [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.consultation.events"
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

	id := chi.URLParam(r, "id")
	log = log.With(sl.Session(id))

	backlog, sub, err := h.service.Stream(r.Context(), actor, id, sse.LastEventID(r))
	if err != nil {
		log.Warn("failed to open stream", sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	var src sse.Source
	if sub != nil {
		defer sub.Close()
		src = sub
	}

	sw, err := sse.Start(w)
	if err != nil {
		log.Error("failed to start stream", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("streaming unsupported"))
		return
	}

	log.Info("consultation stream opened", slog.Int("backlog", len(backlog)), slog.Bool("live", sub != nil))
	sse.Pump(r.Context(), sw, backlog, src, log)
}
