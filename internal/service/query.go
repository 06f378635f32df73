// query.go — выдача списка файлов пространства с фильтрами и отметкой избранного.
package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/domain/policy"
	"github.com/bigkaa/filevault/internal/repository"
)

// ListFilter — фильтры выдачи.
type ListFilter struct {
	// Query — подстрока имени без учёта регистра
	Query string
	// FavoritesOnly — только файлы из избранного principal'а
	FavoritesOnly bool
	// DeletedOnly — только помеченные на удаление (admin)
	DeletedOnly bool
}

// QueryService — фасад выдачи: файлы + избранное одним согласованным видом.
type QueryService struct {
	files     repository.FileRepository
	favorites repository.FavoriteRepository
	logger    *slog.Logger
}

// NewQueryService создаёт сервис выдачи.
func NewQueryService(
	files repository.FileRepository,
	favorites repository.FavoriteRepository,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		files:     files,
		favorites: favorites,
		logger:    logger.With(slog.String("component", "query_service")),
	}
}

// List возвращает файлы пространства principal'а, новые первыми.
// DeletedOnly без роли admin — ErrForbidden, а не пустой список.
func (s *QueryService) List(ctx context.Context, actor model.Identity, filter ListFilter) ([]model.ListedFile, error) {
	if err := requireIdentity(actor); err != nil {
		return nil, err
	}
	if filter.DeletedOnly && !policy.CanListDeleted(actor) {
		return nil, ErrForbidden
	}

	files, err := s.files.List(ctx, actor.SpaceID, repository.ListParams{
		Query:             filter.Query,
		MarkedForDeletion: filter.DeletedOnly,
	})
	if err != nil {
		return nil, mapRepoError("выборка файлов", err)
	}

	favIDs, err := s.favorites.ListFileIDs(ctx, actor.PrincipalID, actor.SpaceID)
	if err != nil {
		return nil, mapRepoError("выборка избранного", err)
	}
	favorites := make(map[string]struct{}, len(favIDs))
	for _, id := range favIDs {
		favorites[id] = struct{}{}
	}

	result := make([]model.ListedFile, 0, len(files))
	for _, f := range files {
		// изоляция пространств: чужой файл не попадает в выдачу ни при каком фильтре
		if f.SpaceID != actor.SpaceID {
			s.logger.Error("Хранилище вернуло файл чужого пространства",
				slog.String("file_id", f.ID),
				slog.String("space_id", actor.SpaceID),
			)
			continue
		}
		_, fav := favorites[f.ID]
		if filter.FavoritesOnly && !fav {
			continue
		}
		result = append(result, model.ListedFile{File: f, IsFavorited: fav})
	}
	return result, nil
}
