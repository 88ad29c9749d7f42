// Package request реализует HTTP-обработчик запроса консультации пациентом.
//
// Handler принимает идентификатор врача, вызывает сервис, который списывает стоимость,
// привязывает врача и активирует консультацию, и возвращает созданную консультацию.
// Ошибка на любом шаге откатывает запрос и возвращает средства.
package request

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Request тело запроса консультации.
type Request struct {
	DoctorID string `json:"doctor_id" validate:"required,uuid"`
}

// Handler управляет HTTP-запросами на начало консультации.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс бизнес-логики начала консультации.
type Service interface {
	Request(ctx context.Context, actor models.Actor, doctorID string) (*models.Session, error)
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
// @Summary Начать консультацию
// @Description Списывает стоимость по специальности врача и открывает активную консультацию.
// @Tags Consultations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Врач"
// @Success 201 {object} response.Response{data=models.Session}
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 402 {object} response.ErrorResponse "Недостаточно средств"
// @Failure 404 {object} response.ErrorResponse "Врач не найден"
// @Failure 409 {object} response.ErrorResponse "Врач недоступен или у пациента уже есть консультация"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /consultations [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.consultation.request"
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

	session, err := h.service.Request(r.Context(), actor, req.DoctorID)
	if err != nil {
		log.Warn("consultation request rejected", sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	log.Info("consultation started", sl.Session(session.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(session))
}
