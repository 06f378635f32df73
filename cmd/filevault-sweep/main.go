// Точка входа filevault-sweep — однократный проход очистки помеченных файлов.
// Предназначен для запуска по расписанию (Kubernetes CronJob), когда
// фоновая очистка внутри сервиса выключена (FV_PURGE_ENABLED=false).
// Работает с FV_STORE_BACKEND=postgres: каталог badger открыт сервисом
// эксклюзивно, для badger используется FV_PURGE_ENABLED=true.
// Код выхода 1 — проход не выполнен или часть файлов не удалена.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bigkaa/filevault/internal/bootstrap"
	"github.com/bigkaa/filevault/internal/config"
	"github.com/bigkaa/filevault/internal/service"
)

const sweepLockKey = "filevault:purge-sweep"

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Конфигурация и логирование
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		return 1
	}
	logger := config.SetupLogger(cfg)
	logger.Info("filevault-sweep запускается",
		slog.String("version", config.Version),
		slog.String("retention", cfg.PurgeRetention.String()),
		slog.Int("batch_size", cfg.PurgeBatchSize),
		slog.String("lock_ttl", cfg.PurgeLockTTL.String()),
	)

	// 2. Хранилища
	if cfg.StoreBackend == config.StoreBackendBadger {
		logger.Warn("Каталог badger нельзя открыть, пока он используется сервисом",
			slog.String("badger_dir", cfg.BadgerDir),
		)
	}
	ctx := context.Background()
	backend, err := bootstrap.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка открытия хранилища", slog.String("error", err.Error()))
		return 1
	}
	defer backend.Close()

	blobs, err := bootstrap.OpenBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка создания blob-хранилища", slog.String("error", err.Error()))
		return 1
	}

	// 3. Блокировка против параллельного прохода реплик сервиса
	var lock service.SweepLock
	if cfg.RedisURL != "" {
		locker, lockErr := service.NewRedisLocker(ctx, cfg.RedisURL, sweepLockKey, cfg.PurgeLockTTL)
		if lockErr != nil {
			logger.Error("Ошибка подключения к Redis", slog.String("error", lockErr.Error()))
			return 1
		}
		defer locker.Close()
		lock = locker
	}

	// 4. Проход очистки
	files := service.NewFileService(backend.Store.Files(), blobs, logger)
	sweeper := service.NewPurgeSweeper(
		backend.Store.Files(), files, lock,
		cfg.PurgeInterval, cfg.PurgeRetention, cfg.PurgeBatchSize,
		logger,
	)

	result, err := sweeper.RunOnce(ctx)
	if err != nil {
		logger.Error("Проход очистки не выполнен", slog.String("error", err.Error()))
		return 1
	}
	if result.Errors > 0 {
		logger.Error("Проход очистки завершён с ошибками",
			slog.Int("purged", result.Purged),
			slog.Int("errors", result.Errors),
		)
		return 1
	}

	logger.Info("filevault-sweep завершён",
		slog.Int("candidates", result.Candidates),
		slog.Int("purged", result.Purged),
		slog.Int("skipped", result.Skipped),
		slog.Bool("lock_busy", result.LockBusy),
	)
	return 0
}
