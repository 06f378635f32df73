package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

// maxToggleAttempts — число попыток compare-and-flip при гонке переключений.
const maxToggleAttempts = 3

// favoriteRepo — реализация repository.FavoriteRepository через pgx.
type favoriteRepo struct {
	db      DBTX
	timeout time.Duration
}

// Toggle инвертирует отметку через уникальный ключ (principal_id, file_id):
// вставка без конфликта — отметка появилась, иначе удаляем существующую.
// Вставка идёт через SELECT из files, поэтому отметка на файл из другого
// пространства или на удалённый файл создана быть не может.
func (r *favoriteRepo) Toggle(ctx context.Context, fav model.Favorite) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	for attempt := 0; attempt < maxToggleAttempts; attempt++ {
		tag, err := r.db.Exec(ctx, `
			INSERT INTO favorites (principal_id, file_id, space_id, created_at)
			SELECT $1::text, id, space_id, $4::timestamptz FROM files WHERE id = $2 AND space_id = $3
			ON CONFLICT (principal_id, file_id) DO NOTHING`,
			fav.PrincipalID, fav.FileID, fav.SpaceID, fav.CreatedAt,
		)
		if err != nil {
			return false, classify("добавление в избранное", err)
		}
		if tag.RowsAffected() == 1 {
			return true, nil
		}

		tag, err = r.db.Exec(ctx,
			`DELETE FROM favorites WHERE principal_id = $1 AND file_id = $2`,
			fav.PrincipalID, fav.FileID,
		)
		if err != nil {
			return false, classify("удаление из избранного", err)
		}
		if tag.RowsAffected() == 1 {
			return false, nil
		}

		// Ни вставки, ни удаления: файла нет, либо отметку снял параллельный вызов.
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM files WHERE id = $1 AND space_id = $2)`,
			fav.FileID, fav.SpaceID,
		).Scan(&exists); err != nil {
			return false, classify("проверка файла", err)
		}
		if !exists {
			return false, repository.ErrNotFound
		}
	}

	return false, fmt.Errorf("переключение избранного: %w: %w", repository.ErrTransient, repository.ErrConflict)
}

// ListFileIDs возвращает id избранных файлов principal'а в пространстве.
func (r *favoriteRepo) ListFileIDs(ctx context.Context, principalID, spaceID string) ([]string, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx,
		`SELECT file_id FROM favorites WHERE principal_id = $1 AND space_id = $2 ORDER BY file_id`,
		principalID, spaceID,
	)
	if err != nil {
		return nil, classify("список избранного", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("список избранного", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("список избранного", err)
	}
	return ids, nil
}
