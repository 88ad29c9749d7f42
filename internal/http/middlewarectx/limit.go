package middlewarectx

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/consultation-service/internal/http/response"
)

// idleLimiter лимитер пользователя, который давно не присылал запросов, удаляется.
const idleLimiter = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter хранит отдельный token bucket для каждого пользователя.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	limit    rate.Limit
	burst    int
	log      *slog.Logger
}

// NewRateLimiter создает лимитер на limit запросов в секунду с запасом burst.
func NewRateLimiter(limit float64, burst int, log *slog.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*userLimiter),
		limit:    rate.Limit(limit),
		burst:    burst,
		log:      log,
	}
}

// Allow сообщает, можно ли пропустить очередной запрос пользователя.
func (l *RateLimiter) Allow(userID string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, ul := range l.limiters {
		if now.Sub(ul.lastSeen) > idleLimiter {
			delete(l.limiters, id)
		}
	}

	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}

// Middleware возвращает HTTP middleware. Запросы без пользователя в контексте
// делят общий bucket.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ""
		if actor, ok := ActorFromContext(r.Context()); ok {
			key = actor.UserID
		}
		if !l.Allow(key) {
			l.log.Warn("too many requests", slog.String("user_id", key))
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, response.Error("too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
