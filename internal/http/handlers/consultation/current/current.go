// Package current реализует HTTP-обработчик текущей консультации пользователя.
// Клиент вызывает его после перезагрузки страницы или из второй вкладки.
package current

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Handler отдаёт незакрытую консультацию вызывающего.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс поиска текущей консультации.
type Service interface {
	Current(ctx context.Context, actor models.Actor) (*models.Session, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Текущая консультация
// @Description Активная консультация или завершённая, ожидающая решения пациента.
// @Tags Consultations
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=models.Session}
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Нет текущей консультации"
// @Router /consultations/current [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.consultation.current"
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

	session, err := h.service.Current(r.Context(), actor)
	if err != nil {
		if !errors.Is(err, models.ErrSessionNotFound) {
			log.Error("failed to find current consultation", sl.Err(err))
		}
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	render.JSON(w, r, response.OKWithData(session))
}
