// Package middlewarectx содержит HTTP middleware сервиса консультаций.
//
// JWTMiddleware проверяет JWT токен в заголовке Authorization и кладёт в контекст
// идентификатор и роль пользователя. RequireRole ограничивает маршрут ролью,
// RateLimitMiddleware ограничивает частоту запросов каждого пользователя.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/jwt"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// User: ключ для идентификатора пользователя в контексте
	User Key = "user_id"
	// Role: ключ для роли пользователя в контексте
	Role Key = "role"
)

// TokenParser проверяет токен и возвращает его claims.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwt.CustomClaims, error)
}

// JWTMiddleware возвращает HTTP middleware, который проверяет JWT в заголовке Authorization.
//
// Если токен валиден и роль известна, добавляет идентификатор пользователя и роль в контекст
// запроса, иначе возвращает ошибку с HTTP статусом 401 Unauthorized.
func JWTMiddleware(parser TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Error("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := parser.ParseToken(tokenStr)
			if err != nil {
				log.Error("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}
			role := models.Role(claims.Role)
			if !role.Valid() {
				log.Error("unknown role in token", slog.String("role", claims.Role))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}

			ctx := context.WithValue(r.Context(), User, claims.UserID)
			ctx = context.WithValue(ctx, Role, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext возвращает вызывающего пользователя, положенного JWTMiddleware.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	userID, _ := ctx.Value(User).(string)
	role, _ := ctx.Value(Role).(models.Role)
	if userID == "" || !role.Valid() {
		return models.Actor{}, false
	}
	return models.Actor{UserID: userID, Role: role}, true
}

// RequireRole пропускает только пользователей с указанной ролью, остальным отвечает 403.
func RequireRole(role models.Role, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("unauthorized"))
				return
			}
			if actor.Role != role {
				log.Warn("role not allowed",
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("role", string(actor.Role)),
					slog.String("required", string(role)),
				)
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
