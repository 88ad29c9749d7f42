// Package online реализует HTTP-обработчик выхода врача онлайн.
package online

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Handler переводит врача в состояние онлайн.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики присутствия.
type Service interface {
	GoOnline(ctx context.Context, actor models.Actor) (*models.PresenceEntry, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Выйти онлайн
// @Description Врач становится доступным для новых консультаций. Повторный вызов не меняет текущую привязку.
// @Tags Presence
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=models.PresenceEntry}
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Доступно только врачу"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /presence/online [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.presence.online"
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

	entry, err := h.service.GoOnline(r.Context(), actor)
	if err != nil {
		log.Error("failed to go online", sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	log.Info("doctor is online", slog.String("doctor_id", actor.UserID))
	render.JSON(w, r, response.OKWithData(entry))
}
