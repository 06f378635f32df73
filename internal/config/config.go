// Пакет config — загрузка и валидация конфигурации FileVault
// из переменных окружения (префикс FV_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища метаданных.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendBadger   = "badger"
)

// Бэкенды blob-хранилища.
const (
	BlobBackendLocal = "local"
	BlobBackendS3    = "s3"
)

// Config содержит все параметры конфигурации FileVault.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Хранилище метаданных ---

	// StoreBackend — postgres или badger
	StoreBackend string
	// Таймаут одной операции с хранилищем; истечение — временная ошибка
	StoreTimeout time.Duration

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	DBMaxConns int

	// BadgerDir — каталог badger; ":memory:" — in-memory режим
	BadgerDir string

	// --- Blob-хранилище ---

	BlobBackend string
	// BlobLocalDir — каталог локального бэкенда
	BlobLocalDir string
	// BlobPublicURL — базовый URL для скачивания из локального бэкенда (пусто — ссылок нет)
	BlobPublicURL string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
	// S3URLTTL — время жизни presigned-ссылки
	S3URLTTL time.Duration

	// Максимальный размер загружаемого файла (байт)
	UploadMaxSize int64

	// --- JWT ---

	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer           string
	JWTLeeway           time.Duration
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	// Значения org_role, дающие роль admin
	JWTAdminRoles []string

	// --- Кэш ссылок для скачивания ---

	CacheMaxSize int
	// CacheTTL — меньше S3URLTTL, иначе из кэша отдаются просроченные ссылки
	CacheTTL time.Duration

	// --- Очистка помеченных файлов ---

	// PurgeEnabled — запуск sweeper внутри сервиса
	PurgeEnabled  bool
	PurgeInterval time.Duration
	// PurgeRetention — сколько файл остаётся помеченным до безвозвратного удаления
	PurgeRetention time.Duration
	PurgeBatchSize int
	// PurgeLockTTL — срок Redis-блокировки и предельная длительность прохода
	PurgeLockTTL time.Duration
	// RedisURL — опциональный Redis для распределённой блокировки sweep
	RedisURL string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:gocyclo // линейный разбор переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("FV_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("FV_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FV_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FV_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FV_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FV_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("FV_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FV_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("FV_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("FV_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("FV_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("FV_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("FV_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FV_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Хранилище метаданных ---

	cfg.StoreBackend = getEnvDefault("FV_STORE_BACKEND", StoreBackendPostgres)
	if cfg.StoreTimeout, err = getEnvPositiveDuration("FV_DB_QUERY_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FV_DB_QUERY_TIMEOUT: %w", err)
	}

	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		if err := loadPostgres(cfg); err != nil {
			return nil, err
		}
	case StoreBackendBadger:
		cfg.BadgerDir = getEnvDefault("FV_BADGER_DIR", "./data/badger")
	default:
		return nil, fmt.Errorf("FV_STORE_BACKEND: недопустимое значение %q, допустимые: postgres, badger", cfg.StoreBackend)
	}

	// --- Blob-хранилище ---

	cfg.BlobBackend = getEnvDefault("FV_BLOB_BACKEND", BlobBackendLocal)
	switch cfg.BlobBackend {
	case BlobBackendLocal:
		cfg.BlobLocalDir = getEnvDefault("FV_BLOB_LOCAL_DIR", "./data/blobs")
		cfg.BlobPublicURL = strings.TrimSuffix(os.Getenv("FV_BLOB_PUBLIC_URL"), "/")
		if cfg.BlobPublicURL != "" {
			if _, err := url.ParseRequestURI(cfg.BlobPublicURL); err != nil {
				return nil, fmt.Errorf("FV_BLOB_PUBLIC_URL: некорректный URL %q", cfg.BlobPublicURL)
			}
		}
	case BlobBackendS3:
		if err := loadS3(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("FV_BLOB_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.BlobBackend)
	}

	uploadMax, err := getEnvInt("FV_UPLOAD_MAX_SIZE", 50<<20)
	if err != nil {
		return nil, fmt.Errorf("FV_UPLOAD_MAX_SIZE: %w", err)
	}
	if uploadMax <= 0 {
		return nil, fmt.Errorf("FV_UPLOAD_MAX_SIZE: значение должно быть > 0")
	}
	cfg.UploadMaxSize = int64(uploadMax)

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired("FV_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = os.Getenv("FV_JWT_ISSUER")
	if cfg.JWTLeeway, err = getEnvDuration("FV_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FV_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("FV_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("FV_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("FV_JWKS_REFRESH_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("FV_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTAdminRoles = parseList(getEnvDefault("FV_JWT_ADMIN_ROLES", "org:admin,admin"))
	if len(cfg.JWTAdminRoles) == 0 {
		return nil, fmt.Errorf("FV_JWT_ADMIN_ROLES: список ролей пуст")
	}

	// --- Кэш ссылок ---

	if cfg.CacheMaxSize, err = getEnvInt("FV_CACHE_MAX_SIZE", 10000); err != nil {
		return nil, fmt.Errorf("FV_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize <= 0 {
		return nil, fmt.Errorf("FV_CACHE_MAX_SIZE: значение должно быть > 0")
	}
	if cfg.CacheTTL, err = getEnvPositiveDuration("FV_CACHE_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FV_CACHE_TTL: %w", err)
	}
	if cfg.BlobBackend == BlobBackendS3 && cfg.CacheTTL >= cfg.S3URLTTL {
		return nil, fmt.Errorf("FV_CACHE_TTL: значение должно быть меньше FV_S3_URL_TTL (%s)", cfg.S3URLTTL)
	}

	// --- Очистка ---

	if cfg.PurgeEnabled, err = getEnvBool("FV_PURGE_ENABLED", false); err != nil {
		return nil, fmt.Errorf("FV_PURGE_ENABLED: %w", err)
	}
	if cfg.PurgeInterval, err = getEnvPositiveDuration("FV_PURGE_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("FV_PURGE_INTERVAL: %w", err)
	}
	if cfg.PurgeRetention, err = getEnvDuration("FV_PURGE_RETENTION", 720*time.Hour); err != nil {
		return nil, fmt.Errorf("FV_PURGE_RETENTION: %w", err)
	}
	if cfg.PurgeRetention < 0 {
		return nil, fmt.Errorf("FV_PURGE_RETENTION: значение должно быть >= 0")
	}
	if cfg.PurgeBatchSize, err = getEnvInt("FV_PURGE_BATCH_SIZE", 500); err != nil {
		return nil, fmt.Errorf("FV_PURGE_BATCH_SIZE: %w", err)
	}
	if cfg.PurgeBatchSize <= 0 {
		return nil, fmt.Errorf("FV_PURGE_BATCH_SIZE: значение должно быть > 0")
	}
	if cfg.PurgeLockTTL, err = getEnvPositiveDuration("FV_PURGE_LOCK_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("FV_PURGE_LOCK_TTL: %w", err)
	}
	cfg.RedisURL = os.Getenv("FV_REDIS_URL")

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("FV_DEPHEALTH_GROUP", "filevault")
	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("FV_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("FV_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// loadPostgres читает параметры подключения к PostgreSQL.
func loadPostgres(cfg *Config) error {
	var err error
	if cfg.DBHost, err = getEnvRequired("FV_DB_HOST"); err != nil {
		return err
	}
	if cfg.DBPort, err = getEnvInt("FV_DB_PORT", 5432); err != nil {
		return fmt.Errorf("FV_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("FV_DB_NAME", "filevault")
	if cfg.DBUser, err = getEnvRequired("FV_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("FV_DB_PASSWORD"); err != nil {
		return err
	}
	cfg.DBSSLMode = getEnvDefault("FV_DB_SSL_MODE", "disable")
	if cfg.DBMaxConns, err = getEnvInt("FV_DB_MAX_CONNS", 10); err != nil {
		return fmt.Errorf("FV_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns <= 0 {
		return fmt.Errorf("FV_DB_MAX_CONNS: значение должно быть > 0")
	}
	return nil
}

// loadS3 читает параметры S3-бэкенда.
func loadS3(cfg *Config) error {
	var err error
	cfg.S3Endpoint = os.Getenv("FV_S3_ENDPOINT")
	cfg.S3Region = getEnvDefault("FV_S3_REGION", "us-east-1")
	if cfg.S3Bucket, err = getEnvRequired("FV_S3_BUCKET"); err != nil {
		return err
	}
	cfg.S3AccessKey = os.Getenv("FV_S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("FV_S3_SECRET_KEY")
	if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return fmt.Errorf("FV_S3_ACCESS_KEY и FV_S3_SECRET_KEY задаются только вместе")
	}
	if cfg.S3PathStyle, err = getEnvBool("FV_S3_PATH_STYLE", true); err != nil {
		return fmt.Errorf("FV_S3_PATH_STYLE: %w", err)
	}
	if cfg.S3URLTTL, err = getEnvPositiveDuration("FV_S3_URL_TTL", 15*time.Minute); err != nil {
		return fmt.Errorf("FV_S3_URL_TTL: %w", err)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL (для golang-migrate и лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration с проверкой > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseList разбирает список через запятую, отбрасывая пустые элементы.
func parseList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
