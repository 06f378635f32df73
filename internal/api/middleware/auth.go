// auth.go — аутентификация запросов: Bearer JWT → model.Identity в контексте.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/identity"
)

// IdentityResolver — определение контекста principal'а по токену.
// Реализуется identity.Resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (model.Identity, error)
}

// Auth — middleware аутентификации.
type Auth struct {
	resolver IdentityResolver
	logger   *slog.Logger
}

// NewAuth создаёт middleware аутентификации.
func NewAuth(resolver IdentityResolver, logger *slog.Logger) *Auth {
	return &Auth{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "auth")),
	}
}

// Middleware извлекает Bearer token, определяет Identity и кладёт её в контекст.
func (a *Auth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			token = strings.TrimSpace(token)
			if token == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			id, err := a.resolver.Resolve(r.Context(), token)
			if err != nil {
				a.logger.Debug("Аутентификация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			setLogIdentity(r, id)
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

// WithExclusions оборачивает middleware, пропуская пути с указанными префиксами.
func WithExclusions(mw func(http.Handler) http.Handler, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}
