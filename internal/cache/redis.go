package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// keyPrefix — пространство ключей модуля в Redis.
const keyPrefix = "dm:document:"

// RedisConfig — параметры подключения к Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis — общий кэш документов в Redis (JSON-значения с TTL).
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis создаёт Redis-кэш.
func NewRedis(cfg RedisConfig, logger *slog.Logger) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.TTL, logger)
}

// NewRedisWithClient создаёт Redis-кэш поверх готового клиента.
func NewRedisWithClient(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	return &Redis{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "redis_cache")),
	}
}

// Ping проверяет доступность Redis.
func (c *Redis) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis недоступен: %w", err)
	}
	return nil
}

// CheckReady — проверка для /health/ready. Недоступный кэш не мешает
// обслуживанию запросов, поэтому статус degraded, а не fail.
func (c *Redis) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		return "degraded", err.Error()
	}
	return "ok", "подключение активно"
}

// Close закрывает подключение.
func (c *Redis) Close() error {
	return c.rdb.Close()
}

func (c *Redis) Get(ctx context.Context, id string) (*model.Document, bool) {
	b, err := c.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Ошибка чтения из Redis",
				slog.String("document_id", id),
				slog.String("error", err.Error()),
			)
		}
		cacheMissesTotal.WithLabelValues("redis").Inc()
		return nil, false
	}

	var doc model.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		c.logger.Warn("Повреждённая запись кэша",
			slog.String("document_id", id),
			slog.String("error", err.Error()),
		)
		cacheMissesTotal.WithLabelValues("redis").Inc()
		return nil, false
	}
	cacheHitsTotal.WithLabelValues("redis").Inc()
	return &doc, true
}

func (c *Redis) Set(ctx context.Context, doc *model.Document) {
	b, err := json.Marshal(doc)
	if err != nil {
		c.logger.Warn("Ошибка сериализации документа", slog.String("error", err.Error()))
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+doc.ID, b, c.ttl).Err(); err != nil {
		c.logger.Warn("Ошибка записи в Redis",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Redis) Delete(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Ошибка инвалидации в Redis",
			slog.Any("document_ids", ids),
			slog.String("error", err.Error()),
		)
	}
}
