// Пакет s3store — бэкенд хранилища поверх S3-совместимого объектного
// хранилища (MinIO, AWS S3) через minio-go.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bigkaa/goartstore/document-module/internal/storage"
)

// Name — имя бэкенда в реестре.
const Name = "s3"

// Ограничения S3 на время жизни presigned URL.
const (
	minPresignTTL = time.Second
	maxPresignTTL = 7 * 24 * time.Hour
)

func init() {
	storage.Register(Name, func(ctx context.Context, cfg storage.Config, logger *slog.Logger) (storage.Adapter, error) {
		return New(ctx, cfg, logger)
	})
}

// Store — реализация storage.Adapter для S3.
type Store struct {
	cl     *minio.Client
	bucket string
	logger *slog.Logger
}

// New подключается к S3 и создаёт бакет, если его нет.
func New(ctx context.Context, cfg storage.Config, logger *slog.Logger) (*Store, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("создание S3-клиента: %w", err)
	}

	exists, err := cl.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("проверка бакета %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cl.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("создание бакета %s: %w", cfg.Bucket, err)
		}
		logger.Info("Бакет создан", slog.String("bucket", cfg.Bucket))
	}

	return &Store{
		cl:     cl,
		bucket: cfg.Bucket,
		logger: logger.With(slog.String("component", "s3store")),
	}, nil
}

// Provider возвращает имя бэкенда.
func (s *Store) Provider() string { return Name }

// Bucket возвращает имя бакета.
func (s *Store) Bucket() string { return s.bucket }

// Endpoint возвращает URL endpoint (для мониторинга зависимостей).
func (s *Store) Endpoint() *url.URL { return s.cl.EndpointURL() }

func (s *Store) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (*storage.UploadResult, error) {
	if err := validKey(path); err != nil {
		return nil, err
	}
	info, err := s.cl.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", storage.ErrWrite, path, err)
	}
	providerID := info.ETag
	if info.VersionID != "" {
		providerID = info.VersionID
	}
	return &storage.UploadResult{Path: path, ProviderID: providerID, Size: info.Size}, nil
}

func (s *Store) Download(ctx context.Context, path string) (io.ReadCloser, *storage.ObjectInfo, error) {
	info, err := s.GetMetadata(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.cl.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, s.readErr(path, err)
	}
	return obj, info, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.cl.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: удаление %s: %w", storage.ErrWrite, path, err)
	}
	return nil
}

// GetURL возвращает presigned GET URL либо прямую ссылку path-style.
func (s *Store) GetURL(ctx context.Context, path string, opts storage.URLOptions) (string, error) {
	if !opts.Signed {
		base := s.cl.EndpointURL()
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base.String(), "/"), s.bucket, path), nil
	}

	ttl := opts.ExpiresIn
	if ttl < minPresignTTL {
		ttl = minPresignTTL
	}
	if ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}

	params := url.Values{}
	if opts.DownloadName != "" {
		params.Set("response-content-disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": opts.DownloadName}))
	}

	u, err := s.cl.PresignedGetObject(ctx, s.bucket, path, ttl, params)
	if err != nil {
		return "", fmt.Errorf("%w: подпись ссылки %s: %w", storage.ErrRead, path, err)
	}
	return u.String(), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var result []storage.ObjectInfo
	for obj := range s.cl.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: список %s: %w", storage.ErrRead, prefix, obj.Err)
		}
		result = append(result, toObjectInfo(obj))
	}
	return result, nil
}

func (s *Store) Copy(ctx context.Context, src, dst string) error {
	if err := validKey(dst); err != nil {
		return err
	}
	_, err := s.cl.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: s.bucket, Object: src},
	)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, src)
		}
		return fmt.Errorf("%w: копирование %s → %s: %w", storage.ErrWrite, src, dst, err)
	}
	return nil
}

// Move — копирование с последующим удалением источника (в S3 нет rename).
func (s *Store) Move(ctx context.Context, src, dst string) error {
	if err := s.Copy(ctx, src, dst); err != nil {
		return err
	}
	return s.Delete(ctx, src)
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.GetMetadata(ctx, path)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetMetadata(ctx context.Context, path string) (*storage.ObjectInfo, error) {
	obj, err := s.cl.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.readErr(path, err)
	}
	info := toObjectInfo(obj)
	return &info, nil
}

// readErr переводит ошибку minio в ошибку хранилища.
func (s *Store) readErr(path string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, path)
	}
	return fmt.Errorf("%w: %s: %w", storage.ErrRead, path, err)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func toObjectInfo(obj minio.ObjectInfo) storage.ObjectInfo {
	return storage.ObjectInfo{
		Path:         obj.Key,
		Size:         obj.Size,
		ContentType:  obj.ContentType,
		ETag:         obj.ETag,
		LastModified: obj.LastModified,
	}
}

// validKey отклоняет пустые ключи и ключи с сегментами "..".
func validKey(path string) error {
	if path == "" || strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q", storage.ErrInvalidPath, path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: %q", storage.ErrInvalidPath, path)
		}
	}
	return nil
}
