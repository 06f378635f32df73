package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

// favoriteRepo — реализация repository.FavoriteRepository на badger.
type favoriteRepo struct {
	db *badger.DB
}

// Toggle инвертирует отметку в одной транзакции. Чтение записи файла
// попадает в конфликтное множество, поэтому гонка с удалением файла
// разрешается повтором транзакции.
func (r *favoriteRepo) Toggle(ctx context.Context, fav model.Favorite) (bool, error) {
	var favorited bool
	err := update(ctx, r.db, func(txn *badger.Txn) error {
		f, err := getFile(txn, fav.FileID)
		if err != nil {
			return err
		}
		if f.SpaceID != fav.SpaceID {
			return repository.ErrNotFound
		}

		key := favoriteKey(fav.PrincipalID, fav.SpaceID, fav.FileID)
		rkey := reverseKey(fav.FileID, fav.PrincipalID, fav.SpaceID)

		_, err = txn.Get(key)
		switch {
		case err == nil:
			if err := txn.Delete(key); err != nil {
				return err
			}
			favorited = false
			return txn.Delete(rkey)
		case errors.Is(err, badger.ErrKeyNotFound):
			data, err := json.Marshal(fav)
			if err != nil {
				return fmt.Errorf("ошибка кодирования избранного: %w", err)
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
			favorited = true
			return txn.Set(rkey, nil)
		default:
			return err
		}
	})
	if err != nil {
		return false, err
	}
	return favorited, nil
}

// ListFileIDs сканирует отметки principal'а в пространстве.
func (r *favoriteRepo) ListFileIDs(ctx context.Context, principalID, spaceID string) ([]string, error) {
	ids := make([]string, 0)
	err := view(ctx, r.db, func(txn *badger.Txn) error {
		prefix := favoritePrefix(principalID, spaceID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, lastSegment(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
