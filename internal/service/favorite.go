// favorite.go — индекс избранного: переключение и выборка по пространству.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

// FavoriteService — избранное principal'а в его текущем пространстве.
type FavoriteService struct {
	files     repository.FileRepository
	favorites repository.FavoriteRepository
	now       func() time.Time
	logger    *slog.Logger
}

// NewFavoriteService создаёт сервис избранного.
func NewFavoriteService(
	files repository.FileRepository,
	favorites repository.FavoriteRepository,
	logger *slog.Logger,
) *FavoriteService {
	return &FavoriteService{
		files:     files,
		favorites: favorites,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "favorite_service")),
	}
}

// Toggle инвертирует отметку и возвращает новое состояние.
// Политика проверяется при каждом вызове, в том числе при снятии отметки.
func (s *FavoriteService) Toggle(ctx context.Context, actor model.Identity, fileID string) (bool, error) {
	if err := requireIdentity(actor); err != nil {
		return false, err
	}

	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return false, mapRepoError("получение файла", err)
	}
	if err := authorize(actor, f, model.OpFavoriteToggle); err != nil {
		return false, err
	}

	// Хранилище повторно сверяет пространство файла в той же операции,
	// что и вставку: файл мог быть удалён после проверки выше.
	favorited, err := s.favorites.Toggle(ctx, model.Favorite{
		PrincipalID: actor.PrincipalID,
		FileID:      fileID,
		SpaceID:     actor.SpaceID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return false, mapRepoError("переключение избранного", err)
	}

	s.logger.Debug("Избранное переключено",
		slog.String("file_id", fileID),
		slog.String("principal_id", actor.PrincipalID),
		slog.Bool("favorited", favorited),
	)
	return favorited, nil
}

// ListForSpace возвращает id файлов в избранном principal'а в его пространстве.
func (s *FavoriteService) ListForSpace(ctx context.Context, actor model.Identity) ([]string, error) {
	if err := requireIdentity(actor); err != nil {
		return nil, err
	}
	ids, err := s.favorites.ListFileIDs(ctx, actor.PrincipalID, actor.SpaceID)
	if err != nil {
		return nil, mapRepoError("выборка избранного", err)
	}
	return ids, nil
}
