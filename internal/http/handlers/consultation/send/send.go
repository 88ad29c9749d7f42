// Package send реализует HTTP-обработчик отправки сообщения в консультацию.
//
// Клиент может передать собственный id сообщения (uuid). Повтор запроса с тем же id
// не создаёт дубликат, поэтому после 503 запрос безопасно повторить.
package send

import (
	"context"
	"encoding/json"
	"errors"
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

// Request тело сообщения.
type Request struct {
	ID   string `json:"id,omitempty" validate:"omitempty,uuid"`
	Text string `json:"text" validate:"required,max=4000"`
}

// Handler принимает сообщения участников консультации.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс отправки сообщений.
type Service interface {
	Send(ctx context.Context, actor models.Actor, sessionID, messageID, text string) (*models.Message, error)
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
// @Summary Отправить сообщение
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID консультации"
// @Param request body Request true "Сообщение"
// @Success 201 {object} response.Response{data=models.Message}
// @Failure 409 {object} response.ErrorResponse "Консультация не активна"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 429 {object} response.ErrorResponse "Слишком много сообщений"
// @Failure 503 {object} response.ErrorResponse "Сообщение сохранено, но не доставлено"
// @Router /consultations/{id}/messages [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.consultation.send"
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
	msg, err := h.service.Send(r.Context(), actor, id, req.ID, req.Text)
	if err != nil {
		status, body := response.FromError(err)
		if errors.Is(err, models.ErrChannelUnavailable) && msg != nil {
			log.Warn("message stored, delivery failed", slog.String("message_id", msg.ID), sl.Err(err))
			render.Status(r, status)
			render.JSON(w, r, response.Response{
				Status: response.StatusError,
				Error:  body.Error,
				Data:   msg,
			})
			return
		}
		log.Warn("failed to send message", sl.Session(id), sl.Err(err))
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(msg))
}
