// Package available реализует HTTP-обработчик списка свободных врачей онлайн.
package available

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Handler отдаёт врачей, которые онлайн и не заняты консультацией.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс справочника врачей.
type Service interface {
	ListAvailable(ctx context.Context) ([]*models.Doctor, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Свободные врачи
// @Description Врачи онлайн без текущей консультации, с ценой по специальности.
// @Tags Doctors
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]models.Doctor}
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /doctors/available [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.doctors.available"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	doctors, err := h.service.ListAvailable(r.Context())
	if err != nil {
		log.Error("failed to list available doctors", sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	if doctors == nil {
		doctors = []*models.Doctor{}
	}

	log.Info("available doctors listed", slog.Int("count", len(doctors)))
	render.JSON(w, r, response.OKWithData(doctors))
}
