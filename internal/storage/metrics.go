// metrics.go — Prometheus-метрики операций хранилища.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal — количество операций хранилища по результату.
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_storage_operations_total",
			Help: "Общее количество операций с blob-хранилищем",
		},
		[]string{"provider", "operation", "result"},
	)

	// operationDuration — длительность операций хранилища.
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dm_storage_operation_duration_seconds",
			Help:    "Длительность операций с blob-хранилищем в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)
)

// instrumented — Adapter с записью метрик каждой операции.
type instrumented struct {
	Adapter
}

// WithMetrics оборачивает Adapter сбором метрик dm_storage_*.
func WithMetrics(a Adapter) Adapter {
	return &instrumented{Adapter: a}
}

// observe фиксирует результат операции. Отсутствие объекта — not_found, не error.
func (m *instrumented) observe(op string, start time.Time, err error) {
	result := "success"
	switch {
	case errors.Is(err, ErrObjectNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	operationsTotal.WithLabelValues(m.Provider(), op, result).Inc()
	operationDuration.WithLabelValues(m.Provider(), op).Observe(time.Since(start).Seconds())
}

func (m *instrumented) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (*UploadResult, error) {
	start := time.Now()
	res, err := m.Adapter.Upload(ctx, path, r, size, contentType)
	m.observe("upload", start, err)
	return res, err
}

func (m *instrumented) Download(ctx context.Context, path string) (io.ReadCloser, *ObjectInfo, error) {
	start := time.Now()
	rc, info, err := m.Adapter.Download(ctx, path)
	m.observe("download", start, err)
	return rc, info, err
}

func (m *instrumented) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := m.Adapter.Delete(ctx, path)
	m.observe("delete", start, err)
	return err
}

func (m *instrumented) GetURL(ctx context.Context, path string, opts URLOptions) (string, error) {
	start := time.Now()
	u, err := m.Adapter.GetURL(ctx, path, opts)
	m.observe("get_url", start, err)
	return u, err
}

func (m *instrumented) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	objs, err := m.Adapter.List(ctx, prefix)
	m.observe("list", start, err)
	return objs, err
}

func (m *instrumented) Move(ctx context.Context, src, dst string) error {
	start := time.Now()
	err := m.Adapter.Move(ctx, src, dst)
	m.observe("move", start, err)
	return err
}

func (m *instrumented) Copy(ctx context.Context, src, dst string) error {
	start := time.Now()
	err := m.Adapter.Copy(ctx, src, dst)
	m.observe("copy", start, err)
	return err
}

func (m *instrumented) Exists(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	ok, err := m.Adapter.Exists(ctx, path)
	m.observe("exists", start, err)
	return ok, err
}

func (m *instrumented) GetMetadata(ctx context.Context, path string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := m.Adapter.GetMetadata(ctx, path)
	m.observe("get_metadata", start, err)
	return info, err
}
