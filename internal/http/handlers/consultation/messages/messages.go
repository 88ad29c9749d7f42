// Package messages реализует HTTP-обработчик чтения переписки консультации.
//
// Сохранённая переписка доступна и после распоряжения, удалённая отдаётся пустой.
package messages

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Handler отдаёт сообщения консультации по возрастанию seq.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс чтения переписки.
type Service interface {
	Messages(ctx context.Context, actor models.Actor, sessionID string, afterSeq int64) ([]*models.Message, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Переписка консультации
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID консультации"
// @Param after query int false "Только сообщения с seq больше указанного"
// @Success 200 {object} response.Response{data=[]models.Message}
// @Failure 403 {object} response.ErrorResponse "Не участник"
// @Failure 404 {object} response.ErrorResponse "Не найдена"
// @Router /consultations/{id}/messages [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.consultation.messages"
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

	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("invalid after"))
			return
		}
		after = v
	}

	id := chi.URLParam(r, "id")
	messages, err := h.service.Messages(r.Context(), actor, id, after)
	if err != nil {
		log.Warn("failed to list messages", sl.Session(id), sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	render.JSON(w, r, response.OKWithData(messages))
}
