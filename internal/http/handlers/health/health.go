// Package health реализует HTTP-проверку живости сервиса консультаций.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
)

// Checker проверка одной зависимости.
type Checker func(ctx context.Context) error

// Handler опрашивает зависимости сервиса.
type Handler struct {
	log    *slog.Logger
	checks map[string]Checker
}

// New создает новый Handler с набором проверок по имени зависимости.
func New(log *slog.Logger, checks map[string]Checker) *Handler {
	return &Handler{
		log:    log,
		checks: checks,
	}
}

// ServeHTTP godoc
// @Summary Проверка живости
// @Tags Health
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	result := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Error("dependency unhealthy", slog.String("op", op), slog.String("dependency", name), sl.Err(err))
			result[name] = "down"
			healthy = false
			continue
		}
		result[name] = "ok"
	}

	if !healthy {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Response{Status: response.StatusError, Error: "unhealthy", Data: result})
		return
	}
	render.JSON(w, r, response.OKWithData(result))
}
