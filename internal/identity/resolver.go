// Пакет identity — определение контекста действующего principal'а по JWT.
// Подпись проверяется через JWKS провайдера идентификации.
// Пространство — активная организация из токена, без неё — личное
// пространство пользователя (space = sub).
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/filevault/internal/domain/model"
)

// ErrUnauthenticated — токен отсутствует, невалиден или просрочен.
var ErrUnauthenticated = errors.New("не удалось определить пользователя")

// orgClaim — компактный формат активной организации ("o": {"id", "rol"}).
type orgClaim struct {
	ID   string `json:"id"`
	Role string `json:"rol"`
}

// tokenClaims — claims сессионного токена.
type tokenClaims struct {
	jwt.RegisteredClaims
	// OrgID — активная организация (плоский формат)
	OrgID string `json:"org_id,omitempty"`
	// OrgRole — роль в активной организации (плоский формат)
	OrgRole string `json:"org_role,omitempty"`
	// Org — активная организация (компактный формат)
	Org *orgClaim `json:"o,omitempty"`
}

// Resolver — проверка токена и вычисление model.Identity.
type Resolver struct {
	jwks       keyfunc.Keyfunc
	issuer     string
	leeway     time.Duration
	adminRoles map[string]bool
	logger     *slog.Logger
}

// NewResolver создаёт Resolver с JWKS, обновляемым в фоне.
// Старт не падает, если провайдер ещё недоступен.
func NewResolver(
	jwksURL string,
	issuer string,
	adminRoles []string,
	clientTimeout time.Duration,
	refreshInterval time.Duration,
	leeway time.Duration,
	logger *slog.Logger,
) (*Resolver, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: clientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewResolverWithKeyfunc(k, issuer, adminRoles, leeway, logger), nil
}

// NewResolverWithKeyfunc создаёт Resolver с готовым keyfunc (используется в тестах).
func NewResolverWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	adminRoles []string,
	leeway time.Duration,
	logger *slog.Logger,
) *Resolver {
	roles := make(map[string]bool, len(adminRoles))
	for _, r := range adminRoles {
		roles[r] = true
	}
	return &Resolver{
		jwks:       kf,
		issuer:     issuer,
		leeway:     leeway,
		adminRoles: roles,
		logger:     logger.With(slog.String("component", "identity")),
	}
}

// Resolve проверяет токен и возвращает контекст principal'а.
func (r *Resolver) Resolve(ctx context.Context, token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, ErrUnauthenticated
	}

	claims := &tokenClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(r.leeway),
	}
	if r.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(r.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, r.jwks.KeyfuncCtx(ctx), parserOpts...)
	if err != nil || !parsed.Valid {
		r.logger.Debug("JWT валидация не пройдена", slog.Any("error", err))
		return model.Identity{}, ErrUnauthenticated
	}

	if claims.Subject == "" {
		return model.Identity{}, fmt.Errorf("%w: отсутствует sub", ErrUnauthenticated)
	}

	return r.identityFromClaims(claims), nil
}

// identityFromClaims вычисляет пространство и роль.
// Владелец личного пространства — его администратор.
func (r *Resolver) identityFromClaims(c *tokenClaims) model.Identity {
	orgID, orgRole := c.OrgID, c.OrgRole
	if orgID == "" && c.Org != nil {
		orgID, orgRole = c.Org.ID, c.Org.Role
	}

	if orgID == "" {
		return model.Identity{
			PrincipalID: c.Subject,
			SpaceID:     c.Subject,
			Role:        model.RoleAdmin,
			Personal:    true,
		}
	}

	role := model.RoleMember
	if r.adminRoles[orgRole] {
		role = model.RoleAdmin
	}
	return model.Identity{
		PrincipalID: c.Subject,
		SpaceID:     orgID,
		Role:        role,
	}
}
