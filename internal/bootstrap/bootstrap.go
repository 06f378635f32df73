// Пакет bootstrap — сборка хранилищ по конфигурации.
// Общий для сервиса filevault и утилиты filevault-sweep.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/filevault/internal/blob"
	"github.com/bigkaa/filevault/internal/config"
	"github.com/bigkaa/filevault/internal/database"
	"github.com/bigkaa/filevault/internal/repository"
	badgerstore "github.com/bigkaa/filevault/internal/repository/badger"
	pgstore "github.com/bigkaa/filevault/internal/repository/postgres"
)

// ReadinessChecker — статус зависимости для readiness probe.
type ReadinessChecker interface {
	CheckReady() (status, message string)
}

// Backend — открытое хранилище метаданных.
type Backend struct {
	Store repository.Store
	// Checker — проверка готовности хранилища
	Checker ReadinessChecker
	// DB — адаптер pgxpool → *sql.DB для topologymetrics; nil для badger
	DB *sql.DB

	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenBackend открывает хранилище, выбранное FV_STORE_BACKEND.
// Для postgres сначала применяются миграции.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, fmt.Errorf("миграции БД: %w", err)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}

		return &Backend{
			Store:   pgstore.New(pool, cfg.StoreTimeout),
			Checker: database.NewReadinessChecker(pool),
			// Проверка здоровья PostgreSQL идёт через существующий пул соединений
			DB:     stdlib.OpenDBFromPool(pool),
			pool:   pool,
			logger: logger,
		}, nil

	case config.StoreBackendBadger:
		store, err := badgerstore.Open(cfg.BadgerDir, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store:   store,
			Checker: store,
			logger:  logger,
		}, nil

	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища %q", cfg.StoreBackend)
	}
}

// Close закрывает хранилище и пул подключений.
func (b *Backend) Close() {
	if err := b.Store.Close(); err != nil {
		b.logger.Warn("Ошибка закрытия хранилища", slog.String("error", err.Error()))
	}
	if b.DB != nil {
		_ = b.DB.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// OpenBlobStore создаёт blob-хранилище, выбранное FV_BLOB_BACKEND.
func OpenBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendLocal:
		store, err := blob.NewLocalStore(cfg.BlobLocalDir, cfg.BlobPublicURL, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BlobBackendS3:
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
			URLTTL:    cfg.S3URLTTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд blob-хранилища %q", cfg.BlobBackend)
	}
}
