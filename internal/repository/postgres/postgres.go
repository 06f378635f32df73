// Пакет postgres — реализация repository.Store на PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/filevault/internal/repository"
)

// Коды ошибок PostgreSQL, которые различает репозиторий.
const (
	codeUniqueViolation    = "23505"
	codeInvalidTextRepr    = "22P02"
	codeSerializationFail  = "40001"
	codeDeadlockDetected   = "40P01"
	codeTooManyConnections = "53300"
	codeAdminShutdown      = "57P01"
	codeCannotConnectNow   = "57P03"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — хранилище на PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	files     *fileRepo
	favorites *favoriteRepo
}

// New создаёт Store поверх пула подключений.
// timeout — предельное время одной операции; истечение — repository.ErrTransient.
func New(pool *pgxpool.Pool, timeout time.Duration) *Store {
	return &Store{
		pool:      pool,
		files:     &fileRepo{db: pool, timeout: timeout},
		favorites: &favoriteRepo{db: pool, timeout: timeout},
	}
}

// Files возвращает репозиторий файлов.
func (s *Store) Files() repository.FileRepository { return s.files }

// Favorites возвращает репозиторий избранного.
func (s *Store) Favorites() repository.FavoriteRepository { return s.favorites }

// Ping проверяет подключение к PostgreSQL.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close — пул закрывает владелец (main), здесь no-op.
func (s *Store) Close() error { return nil }

// withTimeout ограничивает операцию таймаутом хранилища.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classify приводит ошибку pgx к ошибкам слоя репозиториев.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", op, repository.ErrConflict)
		case codeInvalidTextRepr:
			// некорректный UUID — такой записи быть не может
			return repository.ErrNotFound
		case codeSerializationFail, codeDeadlockDetected, codeTooManyConnections,
			codeAdminShutdown, codeCannotConnectNow:
			return fmt.Errorf("%s: %w: %w", op, repository.ErrTransient, err)
		}
	}

	var connErr *pgconn.ConnectError
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) ||
		pgconn.SafeToRetry(err) || errors.As(err, &connErr) {
		return fmt.Errorf("%s: %w: %w", op, repository.ErrTransient, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
