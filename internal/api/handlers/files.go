// files.go — обработчики /api/v1/files: выдача, создание, чтение,
// скачивание, пометка на удаление, восстановление и удаление.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
	"github.com/bigkaa/filevault/internal/blob"
	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/service"
)

// createFileRequest — тело POST /api/v1/files.
type createFileRequest struct {
	Name       string            `json:"name"`
	Type       model.ContentType `json:"type"`
	ContentRef string            `json:"content_ref"`
}

// listedFileResponse — элемент выдачи.
type listedFileResponse struct {
	File        *model.FileRecord `json:"file"`
	IsFavorited bool              `json:"is_favorited"`
	URL         string            `json:"url,omitempty"`
}

// fileListResponse — ответ GET /api/v1/files.
type fileListResponse struct {
	Items []listedFileResponse `json:"items"`
	Total int                  `json:"total"`
}

// ListFiles — GET /api/v1/files?query=&favorites=&deleted=.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := service.ListFilter{Query: q.Get("query")}
	var err error
	if filter.FavoritesOnly, err = parseBoolParam(q.Get("favorites")); err != nil {
		apierrors.ValidationError(w, "favorites: ожидается true или false")
		return
	}
	if filter.DeletedOnly, err = parseBoolParam(q.Get("deleted")); err != nil {
		apierrors.ValidationError(w, "deleted: ожидается true или false")
		return
	}

	listed, err := h.query.List(r.Context(), actor, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := fileListResponse{
		Items: make([]listedFileResponse, 0, len(listed)),
		Total: len(listed),
	}
	for _, lf := range listed {
		resp.Items = append(resp.Items, listedFileResponse{
			File:        lf.File,
			IsFavorited: lf.IsFavorited,
			URL:         h.contentURL(r.Context(), lf.File),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateFile — POST /api/v1/files.
func (h *APIHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "тело запроса: некорректный JSON")
		return
	}

	record, err := h.files.Create(r.Context(), actor, service.CreateInput{
		Name:       req.Name,
		Type:       req.Type,
		ContentRef: req.ContentRef,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// GetFile — GET /api/v1/files/{id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	record, err := h.files.Get(r.Context(), actor, fileID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// DownloadFile — GET /api/v1/files/{id}/download: 302 на ссылку содержимого.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	record, err := h.files.Get(r.Context(), actor, fileID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	url := h.contentURL(r.Context(), record)
	if url == "" {
		apierrors.NotFound(w, "Ссылка на содержимое недоступна")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// MarkFileForDeletion — POST /api/v1/files/{id}/delete.
func (h *APIHandler) MarkFileForDeletion(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	record, err := h.files.MarkForDeletion(r.Context(), actor, fileID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// RestoreFile — POST /api/v1/files/{id}/restore.
func (h *APIHandler) RestoreFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	record, err := h.files.Restore(r.Context(), actor, fileID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// PurgeFile — DELETE /api/v1/files/{id}.
func (h *APIHandler) PurgeFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.files.Purge(r.Context(), actor, fileID(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// contentURL возвращает адрес скачивания или "" если адреса нет.
// Ошибка blob-хранилища не ломает выдачу: ссылка просто опускается.
func (h *APIHandler) contentURL(ctx context.Context, f *model.FileRecord) string {
	url, err := h.blobs.URLFor(ctx, f.ContentRef)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, blob.ErrInvalidRef) {
			level = slog.LevelDebug
		}
		h.logger.Log(ctx, level, "Ссылка на содержимое не получена",
			slog.String("file_id", f.ID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return url
}

// parseBoolParam разбирает необязательный булев параметр запроса.
func parseBoolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
