// Пакет cache — кэш метаданных документов.
// Два бэкенда: in-process LRU с TTL (по умолчанию, per-instance) и Redis
// (общий для реплик). Ошибки кэша не влияют на результат операций:
// недоступный кэш работает как промах.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_cache_hits_total",
		Help: "Общее количество попаданий в кэш метаданных документов.",
	}, []string{"backend"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_cache_misses_total",
		Help: "Общее количество промахов кэша метаданных документов.",
	}, []string{"backend"})
)

// DocumentCache — кэш документов по ID.
type DocumentCache interface {
	Get(ctx context.Context, id string) (*model.Document, bool)
	Set(ctx context.Context, doc *model.Document)
	// Delete инвалидирует записи (вызывается при каждой мутации документа).
	Delete(ctx context.Context, ids ...string)
}

// LRU — in-memory кэш поверх hashicorp/golang-lru/v2/expirable.
type LRU struct {
	cache *expirable.LRU[string, model.Document]
}

// NewLRU создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewLRU(maxSize int, ttl time.Duration) *LRU {
	return &LRU{cache: expirable.NewLRU[string, model.Document](maxSize, nil, ttl)}
}

// Get возвращает копию документа из кэша.
func (c *LRU) Get(_ context.Context, id string) (*model.Document, bool) {
	val, ok := c.cache.Get(id)
	if !ok {
		cacheMissesTotal.WithLabelValues("lru").Inc()
		return nil, false
	}
	cacheHitsTotal.WithLabelValues("lru").Inc()
	return &val, true
}

// Set сохраняет копию документа.
func (c *LRU) Set(_ context.Context, doc *model.Document) {
	c.cache.Add(doc.ID, *doc)
}

// Delete удаляет записи из кэша.
func (c *LRU) Delete(_ context.Context, ids ...string) {
	for _, id := range ids {
		c.cache.Remove(id)
	}
}

// Len возвращает количество записей.
func (c *LRU) Len() int {
	return c.cache.Len()
}
