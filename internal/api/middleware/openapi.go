// openapi.go — проверка запросов по встроенному OpenAPI-контракту (kin-openapi).
// Пути вне контракта (health, metrics) пропускаются без проверки.
package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
)

// streamBodyExtension — операции, тело которых читает обработчик потоком.
const streamBodyExtension = "x-stream-body"

// RequestValidator — middleware валидации запросов.
type RequestValidator struct {
	router routers.Router
	logger *slog.Logger
}

// NewRequestValidator создаёт валидатор по разобранному контракту.
func NewRequestValidator(doc *openapi3.T, logger *slog.Logger) (*RequestValidator, error) {
	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("создание OpenAPI router: %w", err)
	}
	return &RequestValidator{
		router: router,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// Middleware проверяет параметры и JSON-тело запроса.
func (v *RequestValidator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				// маршрут вне контракта или неподдерживаемый метод решает chi
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
					ExcludeRequestBody: route.Operation != nil && route.Operation.Extensions[streamBodyExtension] != nil,
					MultiError:         false,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не прошёл проверку контракта",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, describeValidationError(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// describeValidationError формирует сообщение с именем поля или параметра.
func describeValidationError(err error) string {
	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return "Некорректный запрос"
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(reqErr.Err, &schemaErr) {
		field := strings.Join(schemaErr.JSONPointer(), ".")
		if reqErr.Parameter != nil {
			field = reqErr.Parameter.Name
		}
		if field == "" {
			return "тело запроса: " + schemaErr.Reason
		}
		return fmt.Sprintf("%s: %s", field, schemaErr.Reason)
	}

	if reqErr.Parameter != nil {
		reason := reqErr.Reason
		if reason == "" && reqErr.Err != nil {
			reason = reqErr.Err.Error()
		}
		return fmt.Sprintf("%s: %s", reqErr.Parameter.Name, reason)
	}
	if reqErr.RequestBody != nil {
		if reqErr.Reason != "" || reqErr.Err == nil {
			return "тело запроса: " + reqErr.Reason
		}
		return "тело запроса: " + reqErr.Err.Error()
	}
	return reqErr.Error()
}
