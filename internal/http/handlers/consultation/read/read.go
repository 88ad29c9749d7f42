// Package read реализует HTTP-обработчик получения консультации по идентификатору.
//
// Handler извлекает ID из URL-параметров и возвращает консультацию, если вызывающий её участник.
package read

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Handler обрабатывает запросы на получение консультации.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики чтения консультации.
type Service interface {
	Get(ctx context.Context, actor models.Actor, sessionID string) (*models.Session, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Консультация по ID
// @Tags Consultations
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID консультации"
// @Success 200 {object} response.Response{data=models.Session}
// @Failure 403 {object} response.ErrorResponse "Не участник"
// @Failure 404 {object} response.ErrorResponse "Не найдена"
// @Router /consultations/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.consultation.read"
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
	session, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		log.Warn("failed to read consultation", sl.Session(id), sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	render.JSON(w, r, response.OKWithData(session))
}
