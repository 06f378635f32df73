// Точка входа FileVault — сервис жизненного цикла файлов пространства.
// Загружает конфигурацию, открывает хранилище метаданных и blob-хранилище,
// создаёт сервисный слой и API handlers, запускает фоновую очистку
// помеченных файлов, topologymetrics и HTTP-сервер с JWT middleware.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bigkaa/filevault/internal/api/handlers"
	"github.com/bigkaa/filevault/internal/api/middleware"
	"github.com/bigkaa/filevault/internal/api/openapi"
	"github.com/bigkaa/filevault/internal/blob"
	"github.com/bigkaa/filevault/internal/bootstrap"
	"github.com/bigkaa/filevault/internal/config"
	"github.com/bigkaa/filevault/internal/identity"
	"github.com/bigkaa/filevault/internal/server"
	"github.com/bigkaa/filevault/internal/service"
)

// sweepLockKey — ключ Redis-блокировки прохода очистки.
const sweepLockKey = "filevault:purge-sweep"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("FileVault запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	if os.Getenv("FV_DEPHEALTH_GROUP") == "" {
		logger.Warn("FV_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Хранилище метаданных (postgres с миграциями или badger)
	ctx := context.Background()
	backend, err := bootstrap.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка открытия хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer backend.Close()

	// 4. Blob-хранилище содержимого, ссылки для скачивания кэшируются
	blobStore, err := bootstrap.OpenBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка создания blob-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	blobs := blob.NewCachedStore(blobStore, cfg.CacheMaxSize, cfg.CacheTTL)

	// 5. Определение контекста principal'а по JWT
	resolver, err := identity.NewResolver(
		cfg.JWTJWKSURL,
		cfg.JWTIssuer,
		cfg.JWTAdminRoles,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания identity resolver", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Identity resolver инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 6. Services
	store := backend.Store
	filesSvc := service.NewFileService(store.Files(), blobs, logger)
	favoritesSvc := service.NewFavoriteService(store.Files(), store.Favorites(), logger)
	querySvc := service.NewQueryService(store.Files(), store.Favorites(), logger)

	// 7. Readiness checkers
	checks := []handlers.NamedCheck{
		{Name: "store", Checker: backend.Checker},
		{Name: "identity_provider", Checker: identity.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSClientTimeout)},
		{Name: "blob", Checker: blobs},
	}

	// 8. Фоновая очистка помеченных файлов (опционально, FV_PURGE_ENABLED=true)
	var sweeper *service.PurgeSweeper
	if cfg.PurgeEnabled {
		var lock service.SweepLock
		if cfg.RedisURL != "" {
			locker, lockErr := service.NewRedisLocker(ctx, cfg.RedisURL, sweepLockKey, cfg.PurgeLockTTL)
			if lockErr != nil {
				logger.Error("Ошибка подключения к Redis", slog.String("error", lockErr.Error()))
				os.Exit(1)
			}
			defer locker.Close()
			lock = locker
			checks = append(checks, handlers.NamedCheck{Name: "redis", Checker: locker})
		} else {
			logger.Warn("FV_REDIS_URL не задан, проходы очистки не координируются между репликами")
		}

		sweeper = service.NewPurgeSweeper(
			store.Files(), filesSvc, lock,
			cfg.PurgeInterval, cfg.PurgeRetention, cfg.PurgeBatchSize,
			logger,
		)
		sweeper.Start(ctx)
	}

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL + провайдер идентификации)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "filevault",
		Group:         cfg.DephealthGroup,
		DB:            backend.DB,
		PgConnURL:     pgConnURL(cfg),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 10. API handler и middleware
	healthHandler := handlers.NewHealthHandler(checks...)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		filesSvc,
		favoritesSvc,
		querySvc,
		blobs,
		cfg.UploadMaxSize,
		logger,
	)

	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.NewRequestValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	auth := middleware.NewAuth(resolver, logger)

	router := server.NewRouter(apiHandler,
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
		// health и metrics — без аутентификации
		middleware.WithExclusions(auth.Middleware(), "/health/", "/metrics"),
		validator.Middleware(),
	)

	// 11. Запуск сервера (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, router)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
	}

	// 12. Остановка фоновых задач
	if sweeper != nil {
		sweeper.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("FileVault остановлен")
}

// pgConnURL — URL PostgreSQL для лейблов topologymetrics (пусто для badger).
func pgConnURL(cfg *config.Config) string {
	if cfg.StoreBackend != config.StoreBackendPostgres {
		return ""
	}
	return cfg.DatabaseURL()
}
