package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

// fileRepo — реализация repository.FileRepository на badger.
type fileRepo struct {
	db *badger.DB
}

// getFile читает запись файла в транзакции.
func getFile(txn *badger.Txn, id string) (*model.FileRecord, error) {
	item, err := txn.Get(fileKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	f := &model.FileRecord{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, f)
	}); err != nil {
		return nil, fmt.Errorf("ошибка декодирования файла %s: %w", id, err)
	}
	return f, nil
}

// putFile записывает запись файла в транзакции.
func putFile(txn *badger.Txn, f *model.FileRecord) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("ошибка кодирования файла %s: %w", f.ID, err)
	}
	return txn.Set(fileKey(f.ID), data)
}

// Create сохраняет новую запись и индекс пространства.
func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	return update(ctx, r.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(fileKey(f.ID)); err == nil {
			return repository.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putFile(txn, f); err != nil {
			return err
		}
		return txn.Set(spaceKey(f.SpaceID, f.ID), nil)
	})
}

// GetByID возвращает файл по id или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	var f *model.FileRecord
	err := view(ctx, r.db, func(txn *badger.Txn) error {
		var err error
		f, err = getFile(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// List сканирует индекс пространства и применяет фильтры.
func (r *fileRepo) List(ctx context.Context, spaceID string, params repository.ListParams) ([]*model.FileRecord, error) {
	query := strings.ToLower(params.Query)
	result := make([]*model.FileRecord, 0)

	err := view(ctx, r.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := spacePrefix(spaceID)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			f, err := getFile(txn, lastSegment(it.Item().Key()))
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return err
			}
			if f.MarkedForDeletion != params.MarkedForDeletion {
				continue
			}
			if query != "" && !strings.Contains(strings.ToLower(f.Name), query) {
				continue
			}
			result = append(result, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(result)
	return result, nil
}

// SetMarked выставляет или снимает флаг soft delete.
func (r *fileRepo) SetMarked(ctx context.Context, id string, marked bool, at time.Time) (*model.FileRecord, error) {
	var f *model.FileRecord
	err := update(ctx, r.db, func(txn *badger.Txn) error {
		var err error
		f, err = getFile(txn, id)
		if err != nil {
			return err
		}

		switch {
		case marked && !f.MarkedForDeletion:
			markedAt := at.UTC()
			f.MarkedForDeletion = true
			f.MarkedAt = &markedAt
		case !marked:
			f.MarkedForDeletion = false
			f.MarkedAt = nil
		default:
			// уже помечен — marked_at не меняется
			return nil
		}
		return putFile(txn, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete удаляет запись, индекс пространства и все отметки избранного.
func (r *fileRepo) Delete(ctx context.Context, id string, markedBefore *time.Time) (*model.FileRecord, error) {
	var f *model.FileRecord
	err := update(ctx, r.db, func(txn *badger.Txn) error {
		var err error
		f, err = getFile(txn, id)
		if err != nil {
			return err
		}
		if markedBefore != nil && !markedNotAfter(f, *markedBefore) {
			return repository.ErrNotFound
		}

		// Сначала собираем ключи, затем удаляем
		var favKeys [][]byte
		prefix := reversePrefix(id)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			favKeys = append(favKeys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, rk := range favKeys {
			parts := strings.Split(string(rk), sep)
			// r␀<file>␀<principal>␀<space>
			if len(parts) == 4 {
				if err := txn.Delete(favoriteKey(parts[2], parts[3], id)); err != nil {
					return err
				}
			}
			if err := txn.Delete(rk); err != nil {
				return err
			}
		}

		if err := txn.Delete(spaceKey(f.SpaceID, id)); err != nil {
			return err
		}
		return txn.Delete(fileKey(id))
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListMarkedBefore сканирует все записи и отбирает кандидатов на удаление.
func (r *fileRepo) ListMarkedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.FileRecord, error) {
	result := make([]*model.FileRecord, 0)

	err := view(ctx, r.db, func(txn *badger.Txn) error {
		prefix := fileKey("")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			f := &model.FileRecord{}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, f)
			}); err != nil {
				return fmt.Errorf("ошибка декодирования файла: %w", err)
			}
			if markedNotAfter(f, cutoff) {
				result = append(result, f)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].MarkedAt.Equal(*result[j].MarkedAt) {
			return result[i].MarkedAt.Before(*result[j].MarkedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// markedNotAfter — файл помечен, и момент пометки не позже cutoff.
func markedNotAfter(f *model.FileRecord, cutoff time.Time) bool {
	return f.MarkedForDeletion && f.MarkedAt != nil && !f.MarkedAt.After(cutoff)
}

// sortNewestFirst — created_at DESC, затем id ASC.
func sortNewestFirst(files []*model.FileRecord) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].CreatedAt.After(files[j].CreatedAt)
		}
		return files[i].ID < files[j].ID
	})
}
