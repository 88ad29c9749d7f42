// Package end реализует HTTP-обработчик завершения консультации участником.
package end

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

// Handler завершает активную консультацию.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс завершения консультации.
type Service interface {
	End(ctx context.Context, actor models.Actor, sessionID string) (*models.Session, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Завершить консультацию
// @Description Любой участник завершает активную консультацию. Врач освобождается, в канал уходит session_ended.
// @Tags Consultations
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID консультации"
// @Success 200 {object} response.Response{data=models.Session}
// @Failure 403 {object} response.ErrorResponse "Не участник"
// @Failure 409 {object} response.ErrorResponse "Консультация не активна"
// @Router /consultations/{id}/end [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.consultation.end"
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
	session, err := h.service.End(r.Context(), actor, id)
	if err != nil {
		log.Warn("failed to end consultation", sl.Session(id), sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	log.Info("consultation ended", sl.Session(id), slog.String("ended_by", string(actor.Role)))
	render.JSON(w, r, response.OKWithData(session))
}
