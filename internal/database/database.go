// Пакет database — пул pgx, схема documents (golang-migrate поверх
// встроенных SQL-файлов) и проверка готовности для /health/ready.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/document-module/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const applicationName = "document-module"

// ErrDirtySchema — предыдущая миграция оборвалась на середине.
var ErrDirtySchema = errors.New("схема БД в незавершённом состоянии")

// poolConfig собирает настройки пула из конфигурации модуля.
func poolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("разбор DSN %s: %w", cfg.PostgresURL(), err)
	}
	pc.MaxConns = int32(cfg.DBMaxConns)
	pc.MinConns = min(pc.MaxConns, 2)
	pc.MaxConnIdleTime = 5 * time.Minute
	pc.HealthCheckPeriod = 30 * time.Second
	pc.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	return pc, nil
}

// Connect открывает пул и дожидается первого успешного ping
// в пределах DBConnectTimeout.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("пул подключений %s: %w", cfg.PostgresURL(), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL %s недоступен: %w", cfg.PostgresURL(), err)
	}

	logger.Info("PostgreSQL подключён",
		slog.String("url", cfg.PostgresURL()),
		slog.Int("max_conns", int(pc.MaxConns)),
	)
	return pool, nil
}

// Migrate поднимает схему до последней версии. Схема, оставленная
// оборванной миграцией, не трогается: нужна ручная правка и force.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("встроенные миграции: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("подключение мигратора к %s: %w", cfg.PostgresURL(), err)
	}
	defer m.Close()

	from, err := schemaVersion(m)
	if err != nil {
		return err
	}

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Debug("Схема БД актуальна", slog.Uint64("version", uint64(from)))
		return nil
	case err != nil:
		return fmt.Errorf("миграция с версии %d: %w", from, err)
	}

	to, err := schemaVersion(m)
	if err != nil {
		return err
	}
	logger.Info("Схема БД обновлена",
		slog.Uint64("from", uint64(from)),
		slog.Uint64("to", uint64(to)),
	)
	return nil
}

// schemaVersion возвращает текущую версию схемы (0 — пустая БД).
func schemaVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("версия схемы: %w", err)
	case dirty:
		return v, fmt.Errorf("%w: версия %d", ErrDirtySchema, v)
	}
	return v, nil
}

// Pinger — то, что умеет проверять соединение (*pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecker отвечает за компонент postgresql в /health/ready.
type ReadinessChecker struct {
	db      Pinger
	timeout time.Duration
}

func NewReadinessChecker(db Pinger) *ReadinessChecker {
	return &ReadinessChecker{db: db, timeout: 3 * time.Second}
}

func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	if err := c.db.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	return "ok", fmt.Sprintf("ping %s", time.Since(start).Round(time.Millisecond))
}
