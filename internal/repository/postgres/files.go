package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

// fileColumns — список столбцов таблицы files для SELECT и RETURNING.
const fileColumns = `id, space_id, uploader_id, name, content_type, content_ref,
	marked_for_deletion, marked_at, created_at`

// fileRepo — реализация repository.FileRepository через pgx.
type fileRepo struct {
	db      DBTX
	timeout time.Duration
}

// scanFile читает одну запись files.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	var contentType string
	if err := row.Scan(
		&f.ID, &f.SpaceID, &f.UploaderID, &f.Name, &contentType, &f.ContentRef,
		&f.MarkedForDeletion, &f.MarkedAt, &f.CreatedAt,
	); err != nil {
		return nil, err
	}
	f.Type = model.ContentType(contentType)
	return f, nil
}

// Create сохраняет новую запись файла.
func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.Exec(ctx, `
		INSERT INTO files (id, space_id, uploader_id, name, content_type, content_ref,
			marked_for_deletion, marked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.ID, f.SpaceID, f.UploaderID, f.Name, string(f.Type), f.ContentRef,
		f.MarkedForDeletion, f.MarkedAt, f.CreatedAt,
	)
	return classify("создание файла", err)
}

// GetByID возвращает файл по id или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, fileColumns)
	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, classify("получение файла", err)
	}
	return f, nil
}

// List возвращает файлы пространства с фильтрами, новые первыми.
func (r *fileRepo) List(ctx context.Context, spaceID string, params repository.ListParams) ([]*model.FileRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	conditions := []string{"space_id = $1", "marked_for_deletion = $2"}
	args := []any{spaceID, params.MarkedForDeletion}

	if params.Query != "" {
		args = append(args, escapeLike(params.Query))
		conditions = append(conditions, fmt.Sprintf(`name ILIKE '%%' || $%d || '%%' ESCAPE '\'`, len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM files WHERE %s ORDER BY created_at DESC, id ASC`,
		fileColumns, strings.Join(conditions, " AND "))

	return r.queryFiles(ctx, "список файлов", query, args...)
}

// SetMarked выставляет или снимает флаг soft delete.
func (r *fileRepo) SetMarked(ctx context.Context, id string, marked bool, at time.Time) (*model.FileRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var query string
	var args []any
	if marked {
		// COALESCE сохраняет момент первой пометки
		query = fmt.Sprintf(`UPDATE files SET marked_for_deletion = TRUE, marked_at = COALESCE(marked_at, $2)
			WHERE id = $1 RETURNING %s`, fileColumns)
		args = []any{id, at}
	} else {
		query = fmt.Sprintf(`UPDATE files SET marked_for_deletion = FALSE, marked_at = NULL
			WHERE id = $1 RETURNING %s`, fileColumns)
		args = []any{id}
	}

	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, classify("пометка файла", err)
	}
	return f, nil
}

// Delete удаляет запись; избранное удаляется каскадно (FK ON DELETE CASCADE).
func (r *fileRepo) Delete(ctx context.Context, id string, markedBefore *time.Time) (*model.FileRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM files WHERE id = $1 RETURNING %s`, fileColumns)
	args := []any{id}
	if markedBefore != nil {
		query = fmt.Sprintf(`DELETE FROM files
			WHERE id = $1 AND marked_for_deletion AND marked_at <= $2 RETURNING %s`, fileColumns)
		args = append(args, *markedBefore)
	}

	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, classify("удаление файла", err)
	}
	return f, nil
}

// ListMarkedBefore возвращает кандидатов на безвозвратное удаление, старые первыми.
func (r *fileRepo) ListMarkedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.FileRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM files
		WHERE marked_for_deletion AND marked_at <= $1
		ORDER BY marked_at ASC, id ASC LIMIT $2`, fileColumns)

	return r.queryFiles(ctx, "кандидаты на удаление", query, cutoff, limit)
}

// queryFiles выполняет SELECT и сканирует все строки.
func (r *fileRepo) queryFiles(ctx context.Context, op, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return result, nil
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
