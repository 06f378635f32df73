// handler.go — основной обработчик API FileVault.
// Переводит HTTP-запросы в вызовы сервисного слоя и ошибки сервиса в коды ответа.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/identity"
	"github.com/bigkaa/filevault/internal/service"
)

// FileService — операции жизненного цикла файла.
type FileService interface {
	Create(ctx context.Context, actor model.Identity, in service.CreateInput) (*model.FileRecord, error)
	Get(ctx context.Context, actor model.Identity, id string) (*model.FileRecord, error)
	MarkForDeletion(ctx context.Context, actor model.Identity, id string) (*model.FileRecord, error)
	Restore(ctx context.Context, actor model.Identity, id string) (*model.FileRecord, error)
	Purge(ctx context.Context, actor model.Identity, id string) error
}

// FavoriteService — избранное principal'а.
type FavoriteService interface {
	Toggle(ctx context.Context, actor model.Identity, fileID string) (bool, error)
	ListForSpace(ctx context.Context, actor model.Identity) ([]string, error)
}

// QueryService — выдача файлов пространства.
type QueryService interface {
	List(ctx context.Context, actor model.Identity, filter service.ListFilter) ([]model.ListedFile, error)
}

// BlobStore — часть blob-хранилища, нужная API.
type BlobStore interface {
	Put(ctx context.Context, data []byte, mediaType string) (string, error)
	URLFor(ctx context.Context, ref string) (string, error)
}

// APIHandler — основной обработчик API FileVault.
type APIHandler struct {
	health        *HealthHandler
	files         FileService
	favorites     FavoriteService
	query         QueryService
	blobs         BlobStore
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	files FileService,
	favorites FavoriteService,
	query QueryService,
	blobs BlobStore,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		files:         files,
		favorites:     favorites,
		query:         query,
		blobs:         blobs,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetMe — GET /api/v1/me: пространство и роль текущего principal'а.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

// --- Вспомогательные функции ---

// actor извлекает Identity, положенную middleware аутентификации.
func (h *APIHandler) actor(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return model.Identity{}, false
	}
	return id, true
}

// fileID — идентификатор файла из пути.
func fileID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// writeServiceError переводит ошибку сервиса в ответ API.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		apierrors.ValidationError(w, validationErr.Error())
	case errors.Is(err, service.ErrUnauthenticated):
		apierrors.Unauthorized(w, "Требуется аутентификация")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Файл не найден")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Недостаточно прав для операции")
	case errors.Is(err, service.ErrTransient):
		h.logger.Warn("Хранилище временно недоступно",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.StoreUnavailable(w, "Хранилище временно недоступно, повторите запрос")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
