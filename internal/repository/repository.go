// Пакет repository — контракты хранилища метаданных файлов и избранного.
// Реализации: postgres (pgx) и badger (встраиваемое KV).
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bigkaa/filevault/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена (или уже удалена).
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности.
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrTransient — хранилище временно недоступно, операцию можно повторить.
	ErrTransient = errors.New("хранилище временно недоступно")
)

// ListParams — фильтры выборки файлов одного пространства.
type ListParams struct {
	// Query — подстрока имени без учёта регистра (пусто — без фильтра)
	Query string
	// MarkedForDeletion — true: только помеченные, false: только активные
	MarkedForDeletion bool
}

// FileRepository — хранилище записей файлов.
// Выдача List упорядочена по created_at DESC, затем id ASC.
type FileRepository interface {
	// Create сохраняет новую запись. ErrConflict при повторном id.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает запись или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// List возвращает файлы пространства spaceID с фильтрами.
	List(ctx context.Context, spaceID string, params ListParams) ([]*model.FileRecord, error)
	// SetMarked выставляет флаг soft delete. Повторная пометка сохраняет
	// исходный marked_at. ErrNotFound, если записи нет.
	SetMarked(ctx context.Context, id string, marked bool, at time.Time) (*model.FileRecord, error)
	// Delete безвозвратно удаляет запись и всё избранное на неё.
	// Если markedBefore != nil, удаляет только помеченную не позже markedBefore запись.
	// ErrNotFound, если удалять нечего.
	Delete(ctx context.Context, id string, markedBefore *time.Time) (*model.FileRecord, error)
	// ListMarkedBefore возвращает до limit помеченных не позже cutoff записей.
	ListMarkedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.FileRecord, error)
}

// FavoriteRepository — индекс избранного (principal, file).
type FavoriteRepository interface {
	// Toggle атомарно инвертирует наличие отметки и возвращает новое состояние.
	// ErrNotFound, если файла уже нет.
	Toggle(ctx context.Context, fav model.Favorite) (bool, error)
	// ListFileIDs возвращает id файлов в избранном principal'а в пространстве.
	ListFileIDs(ctx context.Context, principalID, spaceID string) ([]string, error)
}

// Store — полный набор репозиториев одного бэкенда.
type Store interface {
	Files() FileRepository
	Favorites() FavoriteRepository
	// Ping проверяет доступность бэкенда.
	Ping(ctx context.Context) error
	Close() error
}
