// Пакет storage — единый интерфейс к blob-хранилищу документов.
//
// Конкретный бэкенд выбирается при старте по строке конфигурации
// (DM_STORAGE_BACKEND) через реестр фабрик: бэкенды регистрируются
// в init() своих пакетов, сервис документов знает только Adapter.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Ошибки хранилища.
var (
	// ErrObjectNotFound — объект отсутствует.
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
	// ErrWrite — ошибка записи в бэкенд.
	ErrWrite = errors.New("ошибка записи в хранилище")
	// ErrRead — ошибка чтения из бэкенда.
	ErrRead = errors.New("ошибка чтения из хранилища")
	// ErrInvalidPath — ключ выходит за пределы хранилища или пуст.
	ErrInvalidPath = errors.New("недопустимый ключ объекта")
	// ErrUnsupported — операция не поддерживается бэкендом.
	ErrUnsupported = errors.New("операция не поддерживается бэкендом")
	// ErrUnknownBackend — бэкенд не зарегистрирован.
	ErrUnknownBackend = errors.New("неизвестный бэкенд хранилища")
)

// ObjectInfo — метаданные объекта.
type ObjectInfo struct {
	Path         string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// UploadResult — результат записи объекта.
type UploadResult struct {
	// Path — ключ записанного объекта
	Path string
	// ProviderID — идентификатор объекта у провайдера (ETag, version id)
	ProviderID string
	Size       int64
}

// URLOptions — параметры ссылки на объект.
type URLOptions struct {
	// Signed — подписанная ссылка с ограниченным временем жизни
	Signed bool
	// ExpiresIn — время жизни подписанной ссылки
	ExpiresIn time.Duration
	// DownloadName — имя файла для Content-Disposition (опционально)
	DownloadName string
}

// Adapter — набор возможностей blob-хранилища.
// Все методы, кроме Upload, безопасны для повтора. Upload не решает
// политику перезаписи: это делает вызывающий код через Exists.
type Adapter interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (*UploadResult, error)
	// Download открывает объект на чтение. Вызывающий обязан закрыть ReadCloser.
	Download(ctx context.Context, path string) (io.ReadCloser, *ObjectInfo, error)
	// Delete удаляет объект; отсутствие объекта не ошибка.
	Delete(ctx context.Context, path string) error
	GetURL(ctx context.Context, path string, opts URLOptions) (string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Move(ctx context.Context, src, dst string) error
	Copy(ctx context.Context, src, dst string) error
	Exists(ctx context.Context, path string) (bool, error)
	GetMetadata(ctx context.Context, path string) (*ObjectInfo, error)

	// Provider — имя бэкенда (s3, filesystem).
	Provider() string
	// Bucket — бакет или корневая директория.
	Bucket() string
}

// Config — параметры открытия бэкенда.
type Config struct {
	Backend string

	// S3
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool

	// Filesystem
	DataDir    string
	PublicURL  string
	SigningKey string
}

// Factory создаёт Adapter по конфигурации.
type Factory func(ctx context.Context, cfg Config, logger *slog.Logger) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register регистрирует фабрику бэкенда. Повторная регистрация имени — паника.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("storage: бэкенд " + name + " зарегистрирован дважды")
	}
	registry[name] = f
}

// Backends возвращает отсортированный список зарегистрированных бэкендов.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open создаёт Adapter для cfg.Backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Adapter, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (доступные: %v)", ErrUnknownBackend, cfg.Backend, Backends())
	}
	a, err := f(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("инициализация бэкенда %s: %w", cfg.Backend, err)
	}
	return a, nil
}
