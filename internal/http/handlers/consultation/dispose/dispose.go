// Package dispose реализует HTTP-обработчик распоряжения завершённой консультацией:
// оценка врача и решение сохранить или удалить переписку.
package dispose

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Request тело распоряжения. Пустое решение означает discarded.
type Request struct {
	Rating   *int   `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
	Decision string `json:"decision" validate:"omitempty,oneof=saved discarded"`
}

// Handler принимает решение пациента.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс распоряжения консультацией.
type Service interface {
	Dispose(ctx context.Context, actor models.Actor, sessionID string, rating *int, decision models.Disposition) (*models.Session, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Оценить и распорядиться перепиской
// @Description Только из состояния ended и только пациентом. discarded удаляет сообщения.
// @Tags Consultations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID консультации"
// @Param request body Request true "Оценка и решение"
// @Success 200 {object} response.Response{data=models.Session}
// @Failure 403 {object} response.ErrorResponse "Не пациент консультации"
// @Failure 409 {object} response.ErrorResponse "Консультация не завершена"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /consultations/{id}/dispose [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.consultation.dispose"
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

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	id := chi.URLParam(r, "id")
	session, err := h.service.Dispose(r.Context(), actor, id, req.Rating, models.Disposition(req.Decision))
	if err != nil {
		log.Warn("failed to dispose consultation", sl.Session(id), sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	log.Info("consultation disposed", sl.Session(id), slog.String("decision", string(session.Disposition)))
	render.JSON(w, r, response.OKWithData(session))
}
