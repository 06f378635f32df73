// uploads.go — обработчик POST /api/v1/uploads: содержимое в blob-хранилище.
// Запись файла создаётся отдельным запросом с полученной ссылкой.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
)

// uploadResponse — ответ POST /api/v1/uploads.
type uploadResponse struct {
	ContentRef string `json:"content_ref"`
}

// UploadContent — POST /api/v1/uploads.
func (h *APIHandler) UploadContent(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер содержимого больше %d байт", h.maxUploadSize))
			return
		}
		apierrors.ValidationError(w, "тело запроса: ошибка чтения")
		return
	}
	if len(data) == 0 {
		apierrors.ValidationError(w, "тело запроса: пустое содержимое")
		return
	}

	mediaType := ""
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = parsed
		}
	}

	ref, err := h.blobs.Put(r.Context(), data, mediaType)
	if err != nil {
		h.logger.Error("Ошибка загрузки содержимого",
			slog.String("principal_id", actor.PrincipalID),
			slog.String("error", err.Error()),
		)
		apierrors.StoreUnavailable(w, "Blob-хранилище временно недоступно, повторите запрос")
		return
	}

	h.logger.Info("Содержимое загружено",
		slog.String("principal_id", actor.PrincipalID),
		slog.String("space_id", actor.SpaceID),
		slog.String("content_ref", ref),
		slog.Int("bytes", len(data)),
	)
	writeJSON(w, http.StatusCreated, uploadResponse{ContentRef: ref})
}
