// Пакет config — загрузка и валидация конфигурации Document Module
// из переменных окружения (префикс DM_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/topi314/tint"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые бэкенды хранилища и кэша.
const (
	StorageBackendS3         = "s3"
	StorageBackendFilesystem = "filesystem"

	CacheBackendLRU   = "lru"
	CacheBackendRedis = "redis"
)

// Config содержит все параметры конфигурации Document Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text, console)
	LogFormat string
	// Внешний базовый URL модуля (для подписанных ссылок filesystem-бэкенда)
	PublicURL string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Размер пула подключений
	DBMaxConns int
	// Таймаут первичного подключения и проверки готовности
	DBConnectTimeout time.Duration

	// --- Хранилище ---

	// Бэкенд хранилища: s3 или filesystem
	StorageBackend string
	// Endpoint S3-совместимого хранилища (host:port)
	S3Endpoint string
	// Регион S3
	S3Region string
	// Бакет для документов
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	// Использовать TLS при подключении к S3
	S3UseSSL bool
	// Path-style адресация бакета (MinIO)
	S3PathStyle bool
	// Корневая директория filesystem-бэкенда
	FSDataDir string
	// Ключ подписи ссылок filesystem-бэкенда (HS256)
	BlobSigningKey string

	// --- Документы ---

	// Максимальный размер загружаемого файла по умолчанию (байт)
	MaxUploadSize int64
	// TTL подписанной ссылки по умолчанию
	SignedURLTTL time.Duration

	// --- Сервис прав ---

	// Базовый URL внешнего сервиса прав пользователей
	PermissionsURL string
	// Таймаут HTTP-запросов к сервису прав
	PermissionsTimeout time.Duration
	// TTL кэша прав
	PermissionsCacheTTL time.Duration
	// Размер кэша прав
	PermissionsCacheSize int

	// --- Кэш метаданных ---

	// Бэкенд кэша: lru или redis
	CacheBackend string
	// Максимальное количество записей (lru)
	CacheSize int
	// Время жизни записи
	CacheTTL time.Duration
	// Адрес Redis (host:port)
	RedisAddr string
	// Пароль Redis
	RedisPassword string
	// Номер базы Redis
	RedisDB int

	// --- JWT ---

	// Issuer JWT
	JWTIssuer string
	// URL JWKS endpoint
	JWTJWKSURL string
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Группы IdP, дающие роль admin
	RoleAdminGroups []string

	// --- topologymetrics ---

	// Группа в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("DM_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("DM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DM_LOG_FORMAT", "json")
	switch cfg.LogFormat {
	case "json", "text", "console":
	default:
		return nil, fmt.Errorf("DM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text, console", cfg.LogFormat)
	}

	cfg.PublicURL = strings.TrimRight(getEnvDefault("DM_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")
	if _, err := url.Parse(cfg.PublicURL); err != nil {
		return nil, fmt.Errorf("DM_PUBLIC_URL: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DM_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("DM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DM_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	if cfg.DBMaxConns, err = getEnvInt("DM_DB_MAX_CONNS", 10); err != nil {
		return nil, fmt.Errorf("DM_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("DM_DB_MAX_CONNS: должно быть не меньше 1, получено %d", cfg.DBMaxConns)
	}
	if cfg.DBConnectTimeout, err = getEnvDuration("DM_DB_CONNECT_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("DM_DB_CONNECT_TIMEOUT: %w", err)
	}

	// --- Хранилище ---

	cfg.StorageBackend = getEnvDefault("DM_STORAGE_BACKEND", StorageBackendS3)
	switch cfg.StorageBackend {
	case StorageBackendS3:
		if cfg.S3Endpoint, err = getEnvRequired("DM_S3_ENDPOINT"); err != nil {
			return nil, err
		}
		if cfg.S3AccessKey, err = getEnvRequired("DM_S3_ACCESS_KEY"); err != nil {
			return nil, err
		}
		if cfg.S3SecretKey, err = getEnvRequired("DM_S3_SECRET_KEY"); err != nil {
			return nil, err
		}
	case StorageBackendFilesystem:
		// Подпись ссылок обязательна: без неё /blobs отдавал бы файлы всем
		if cfg.BlobSigningKey, err = getEnvRequired("DM_BLOB_SIGNING_KEY"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("DM_STORAGE_BACKEND: недопустимое значение %q, допустимые: s3, filesystem", cfg.StorageBackend)
	}
	cfg.S3Region = getEnvDefault("DM_S3_REGION", "us-east-1")
	cfg.S3Bucket = getEnvDefault("DM_S3_BUCKET", "documents")
	if cfg.S3UseSSL, err = getEnvBool("DM_S3_USE_SSL", true); err != nil {
		return nil, fmt.Errorf("DM_S3_USE_SSL: %w", err)
	}
	if cfg.S3PathStyle, err = getEnvBool("DM_S3_PATH_STYLE", false); err != nil {
		return nil, fmt.Errorf("DM_S3_PATH_STYLE: %w", err)
	}
	cfg.FSDataDir = getEnvDefault("DM_FS_DATA_DIR", "/data/documents")

	// --- Документы ---

	cfg.MaxUploadSize, err = getEnvBytes("DM_MAX_UPLOAD_SIZE", 50<<20)
	if err != nil {
		return nil, fmt.Errorf("DM_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("DM_MAX_UPLOAD_SIZE: значение должно быть положительным, получено %d", cfg.MaxUploadSize)
	}

	cfg.SignedURLTTL, err = getEnvDuration("DM_SIGNED_URL_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DM_SIGNED_URL_TTL: %w", err)
	}

	// --- Сервис прав ---

	if cfg.PermissionsURL, err = getEnvRequired("DM_PERMISSIONS_URL"); err != nil {
		return nil, err
	}
	cfg.PermissionsURL = strings.TrimRight(cfg.PermissionsURL, "/")

	cfg.PermissionsTimeout, err = getEnvDuration("DM_PERMISSIONS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_PERMISSIONS_TIMEOUT: %w", err)
	}
	cfg.PermissionsCacheTTL, err = getEnvDuration("DM_PERMISSIONS_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_PERMISSIONS_CACHE_TTL: %w", err)
	}
	cfg.PermissionsCacheSize, err = getEnvInt("DM_PERMISSIONS_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("DM_PERMISSIONS_CACHE_SIZE: %w", err)
	}

	// --- Кэш метаданных ---

	cfg.CacheBackend = getEnvDefault("DM_CACHE_BACKEND", CacheBackendLRU)
	switch cfg.CacheBackend {
	case CacheBackendLRU:
	case CacheBackendRedis:
		if cfg.RedisAddr, err = getEnvRequired("DM_REDIS_ADDR"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("DM_CACHE_BACKEND: недопустимое значение %q, допустимые: lru, redis", cfg.CacheBackend)
	}
	cfg.RedisPassword = getEnvDefault("DM_REDIS_PASSWORD", "")
	if cfg.RedisDB, err = getEnvInt("DM_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("DM_REDIS_DB: %w", err)
	}
	cfg.CacheSize, err = getEnvInt("DM_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("DM_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("DM_CACHE_SIZE: значение должно быть положительным, получено %d", cfg.CacheSize)
	}
	cfg.CacheTTL, err = getEnvDuration("DM_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DM_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired("DM_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("DM_JWT_ISSUER", "")
	cfg.JWKSRefreshInterval, err = getEnvDuration("DM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("DM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_JWT_LEEWAY: %w", err)
	}
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("DM_ROLE_ADMIN_GROUPS", "documents-admins"))

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DM_DEPHEALTH_GROUP", "goartstore")
	cfg.DephealthCheckInterval, err = getEnvDuration("DM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("DM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// PostgresURL возвращает URL PostgreSQL для лейблов topologymetrics.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgresql://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "console":
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			TimeFormat: time.TimeOnly,
		})
	default:
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

// getEnvBytes возвращает размер в байтах. Принимает как число байт,
// так и человекочитаемую запись: 50MiB, 1GB, 512KB.
func getEnvBytes(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := humanize.ParseBytes(val)
	if err != nil {
		return 0, fmt.Errorf("некорректный размер: %q (примеры: 52428800, 50MiB, 1GB)", val)
	}
	return int64(n), nil //nolint:gosec // G115: размеры конфигурации заведомо меньше MaxInt64
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

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
