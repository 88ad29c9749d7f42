// Package balance реализует HTTP-обработчик чтения баланса jewel текущего пользователя.
package balance

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
)

// Handler отдаёт баланс вызывающего пользователя.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс чтения баланса.
type Service interface {
	Balance(ctx context.Context, userID string) (int64, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Баланс
// @Tags Balance
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any "balance"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Router /balance [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.balance"
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

	balance, err := h.service.Balance(r.Context(), actor.UserID)
	if err != nil {
		log.Error("failed to read balance", sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"balance": balance,
	}))
}
