// Точка входа Document Module — сервис жизненного цикла документов.
// Загружает конфигурацию, применяет миграции и подключается к PostgreSQL,
// открывает blob-хранилище (S3 или файловая система), создаёт клиент
// сервиса прав, кэш метаданных, сервисный слой и API handlers, запускает
// мониторинг зависимостей и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/document-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/document-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/document-module/internal/cache"
	"github.com/bigkaa/goartstore/document-module/internal/config"
	"github.com/bigkaa/goartstore/document-module/internal/database"
	"github.com/bigkaa/goartstore/document-module/internal/permission"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
	"github.com/bigkaa/goartstore/document-module/internal/server"
	"github.com/bigkaa/goartstore/document-module/internal/service"
	"github.com/bigkaa/goartstore/document-module/internal/storage"
	"github.com/bigkaa/goartstore/document-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/document-module/internal/storage/s3store"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Document Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.String("cache_backend", cfg.CacheBackend),
	)

	if os.Getenv("DM_DEPHEALTH_GROUP") == "" {
		logger.Warn("DM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Blob-хранилище
	backend, err := storage.Open(ctx, storage.Config{
		Backend:    cfg.StorageBackend,
		Endpoint:   cfg.S3Endpoint,
		Region:     cfg.S3Region,
		Bucket:     cfg.S3Bucket,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		UseSSL:     cfg.S3UseSSL,
		PathStyle:  cfg.S3PathStyle,
		DataDir:    cfg.FSDataDir,
		PublicURL:  cfg.PublicURL,
		SigningKey: cfg.BlobSigningKey,
	}, logger)
	if err != nil {
		logger.Error("Ошибка открытия хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	blobStore := storage.WithMetrics(backend)
	logger.Info("Хранилище открыто",
		slog.String("provider", blobStore.Provider()),
		slog.String("bucket", blobStore.Bucket()),
	)

	// 6. Сервис прав
	permClient := permission.NewClient(
		cfg.PermissionsURL,
		cfg.PermissionsTimeout,
		cfg.PermissionsCacheSize,
		cfg.PermissionsCacheTTL,
		logger,
	)
	gate := permission.NewGate(permClient, logger)

	// 7. Кэш метаданных документов
	checks := map[string]handlers.ReadinessChecker{
		"postgresql": database.NewReadinessChecker(pool),
		"storage":    handlers.NewStorageReadiness(blobStore, 3*time.Second),
	}
	var docCache cache.DocumentCache
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		rc := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		}, logger)
		defer rc.Close()
		if pingErr := rc.Ping(ctx); pingErr != nil {
			logger.Warn("Redis недоступен при старте, кэш будет промахиваться",
				slog.String("error", pingErr.Error()),
			)
		}
		docCache = rc
		checks["cache"] = rc
	default:
		docCache = cache.NewLRU(cfg.CacheSize, cfg.CacheTTL)
	}

	// 8. Repositories и сервисы
	store := repository.NewStore(pool)
	deps := service.Deps{
		Store:   store,
		Storage: blobStore,
		Gate:    gate,
		Cache:   docCache,
		Audit:   service.NewAuditLog(store.Repos().AccessLog, logger),
	}
	docsSvc := service.NewDocumentService(deps, service.Options{
		MaxUploadSize: cfg.MaxUploadSize,
		SignedURLTTL:  cfg.SignedURLTTL,
	}, logger)
	approvalSvc := service.NewApprovalService(deps, logger)

	// 9. API handlers
	var blobHandler *handlers.BlobHandler
	if fs, ok := backend.(*filestore.FileStore); ok {
		blobHandler = handlers.NewBlobHandler(fs, blobStore, logger)
	}
	apiHandler := handlers.NewAPIHandler(
		docsSvc,
		approvalSvc,
		handlers.NewHealthHandler(checks),
		blobHandler,
		cfg.MaxUploadSize,
		logger,
	)

	// 10. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWTJWKSURL,
		Issuer:          cfg.JWTIssuer,
		AdminGroups:     cfg.RoleAdminGroups,
		ClientTimeout:   10 * time.Second,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 11. topologymetrics — мониторинг зависимостей
	targets := service.DephealthTargets{
		DB:             pgDB,
		PostgresURL:    cfg.PostgresURL(),
		PermissionsURL: cfg.PermissionsURL,
	}
	if s3, ok := backend.(*s3store.Store); ok {
		targets.S3URL = s3URL(s3.Endpoint())
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"document-module",
		cfg.DephealthGroup,
		targets,
		cfg.DephealthCheckInterval,
		logger,
	)
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

	// 12. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	runErr := srv.Run()

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("Document Module остановлен")
}

// s3URL — URL endpoint S3 для проверки здоровья; nil — пусто.
func s3URL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
