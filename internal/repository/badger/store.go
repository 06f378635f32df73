// Пакет badger — реализация repository.Store на встраиваемом badger/v4.
//
// Схема ключей (разделитель — нулевой байт):
//
//	f␀<id>                          запись файла (JSON)
//	s␀<space>␀<id>                  индекс файлов пространства
//	v␀<principal>␀<space>␀<file>    отметка избранного (JSON)
//	r␀<file>␀<principal>␀<space>    обратный индекс для каскадного удаления
//
// Атомарность обеспечивают транзакции badger: конфликт при коммите
// повторяется до maxTxnAttempts раз с экспоненциальной задержкой и джиттером,
// затем отдаётся repository.ErrTransient.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/bigkaa/filevault/internal/repository"
)

// InMemoryDir — значение каталога для in-memory режима.
const InMemoryDir = ":memory:"

// maxTxnAttempts — число попыток транзакции при badger.ErrConflict.
const maxTxnAttempts = 10

// Задержки между попытками при конфликте.
const (
	conflictInitialDelay = 2 * time.Millisecond
	conflictMaxDelay     = 50 * time.Millisecond
)

const sep = "\x00"

// Store — хранилище на badger.
type Store struct {
	db        *badger.DB
	files     *fileRepo
	favorites *favoriteRepo
}

// Open открывает (или создаёт) базу badger в каталоге dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)
	if dir == InMemoryDir {
		opts = badger.DefaultOptions("").
			WithInMemory(true).
			WithLoggingLevel(badger.WARNING)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия badger %s: %w", dir, err)
	}

	logger.Info("Хранилище badger открыто",
		slog.String("dir", dir),
		slog.Bool("in_memory", dir == InMemoryDir),
	)

	return newStore(db), nil
}

func newStore(db *badger.DB) *Store {
	return &Store{
		db:        db,
		files:     &fileRepo{db: db},
		favorites: &favoriteRepo{db: db},
	}
}

// Files возвращает репозиторий файлов.
func (s *Store) Files() repository.FileRepository { return s.files }

// Favorites возвращает репозиторий избранного.
func (s *Store) Favorites() repository.FavoriteRepository { return s.favorites }

// Ping проверяет, что база открыта.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("%w: badger закрыт", repository.ErrTransient)
	}
	return nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReady — проверка готовности для health endpoint.
func (s *Store) CheckReady() (status, message string) {
	if s.db.IsClosed() {
		return "fail", "badger закрыт"
	}
	return "ok", "badger открыт"
}

// --- Ключи ---

func fileKey(id string) []byte {
	return []byte("f" + sep + id)
}

func spacePrefix(space string) []byte {
	return []byte("s" + sep + space + sep)
}

func spaceKey(space, id string) []byte {
	return append(spacePrefix(space), id...)
}

func favoritePrefix(principal, space string) []byte {
	return []byte("v" + sep + principal + sep + space + sep)
}

func favoriteKey(principal, space, file string) []byte {
	return append(favoritePrefix(principal, space), file...)
}

func reversePrefix(file string) []byte {
	return []byte("r" + sep + file + sep)
}

func reverseKey(file, principal, space string) []byte {
	return []byte("r" + sep + file + sep + principal + sep + space)
}

// lastSegment возвращает часть ключа после последнего разделителя.
func lastSegment(key []byte) string {
	s := string(key)
	return s[strings.LastIndex(s, sep)+1:]
}

// --- Транзакции ---

// update выполняет fn в read-write транзакции с повтором при конфликте.
func update(ctx context.Context, db *badger.DB, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	}

	err := backoff.Retry(func() error {
		err := db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			return err
		}
		return backoff.Permanent(classify(err))
	}, backoff.WithContext(backoff.WithMaxRetries(conflictBackOff(), maxTxnAttempts-1), ctx))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	default:
		return err
	}
}

// conflictBackOff — короткая экспоненциальная задержка с джиттером,
// чтобы конкурирующие транзакции не повторялись синхронно.
func conflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conflictInitialDelay
	b.MaxInterval = conflictMaxDelay
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return b
}

// view выполняет fn в read-only транзакции.
func view(ctx context.Context, db *badger.DB, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	}
	return classify(db.View(fn))
}

// classify приводит ошибки badger к ошибкам слоя репозиториев.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return repository.ErrNotFound
	case errors.Is(err, badger.ErrDBClosed), errors.Is(err, badger.ErrBlockedWrites):
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	default:
		return err
	}
}
