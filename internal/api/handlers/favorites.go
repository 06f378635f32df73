// favorites.go — обработчики избранного.
package handlers

import "net/http"

// favoriteStateResponse — ответ POST /api/v1/files/{id}/favorite.
type favoriteStateResponse struct {
	Favorited bool `json:"favorited"`
}

// favoriteListResponse — ответ GET /api/v1/favorites.
type favoriteListResponse struct {
	FileIDs []string `json:"file_ids"`
}

// ToggleFavorite — POST /api/v1/files/{id}/favorite.
func (h *APIHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	favorited, err := h.favorites.Toggle(r.Context(), actor, fileID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteStateResponse{Favorited: favorited})
}

// ListFavorites — GET /api/v1/favorites.
func (h *APIHandler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	ids, err := h.favorites.ListForSpace(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, favoriteListResponse{FileIDs: ids})
}
