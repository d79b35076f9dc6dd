// Пакет filestore — бэкенд хранилища на локальной файловой системе.
// Запись атомарна: temp файл → запись → fsync → rename. Прямых ссылок
// нет, выдаются только подписанные: JWT HS256 с путём объекта в subject,
// который проверяет обработчик /blobs/*.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/document-module/internal/storage"
)

// Name — имя бэкенда в реестре.
const Name = "filesystem"

// blobAudience — audience токенов подписанных ссылок.
const blobAudience = "blobs"

// tmpSuffix — суффикс незавершённых записей.
const tmpSuffix = ".tmp"

// ErrInvalidToken — токен подписанной ссылки недействителен.
var ErrInvalidToken = errors.New("недействительный токен ссылки")

func init() {
	storage.Register(Name, func(_ context.Context, cfg storage.Config, logger *slog.Logger) (storage.Adapter, error) {
		return New(cfg.DataDir, cfg.PublicURL, []byte(cfg.SigningKey), logger)
	})
}

// FileStore — управление объектами в директории на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (DM_FS_DATA_DIR)
	dataDir    string
	publicURL  string
	signingKey []byte
	logger     *slog.Logger
}

// New создаёт FileStore. Создаёт директорию данных, если её нет.
func New(dataDir, publicURL string, signingKey []byte, logger *slog.Logger) (*FileStore, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("ключ подписи ссылок не задан")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("абсолютный путь %s: %w", dataDir, err)
	}
	return &FileStore{
		dataDir:    abs,
		publicURL:  strings.TrimRight(publicURL, "/"),
		signingKey: signingKey,
		logger:     logger.With(slog.String("component", "filestore")),
	}, nil
}

// Provider возвращает имя бэкенда.
func (s *FileStore) Provider() string { return Name }

// Bucket возвращает корневую директорию.
func (s *FileStore) Bucket() string { return s.dataDir }

// DataDir возвращает путь к директории данных.
func (s *FileStore) DataDir() string { return s.dataDir }

// resolve переводит ключ объекта в путь на диске, не выходя за пределы dataDir.
func (s *FileStore) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "\\") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidPath, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || clean != key {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidPath, key)
	}
	return filepath.Join(s.dataDir, filepath.FromSlash(clean)), nil
}

// Upload записывает объект. size не используется: пишется весь поток.
func (s *FileStore) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) (*storage.UploadResult, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	size, err := writeAtomic(fullPath, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", storage.ErrWrite, key, err)
	}
	return &storage.UploadResult{Path: key, ProviderID: key, Size: size}, nil
}

// writeAtomic: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func writeAtomic(fullPath string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return 0, fmt.Errorf("ошибка создания директории: %w", err)
	}
	tmpPath := fullPath + "." + uuid.New().String()[:8] + tmpSuffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return size, nil
}

// Download открывает объект на чтение. Вызывающий код обязан закрыть ReadCloser.
func (s *FileStore) Download(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	info, err := s.GetMetadata(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	fullPath, _ := s.resolve(key)
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, nil, s.statErr(key, err)
	}
	return f, info, nil
}

// Delete удаляет объект. Возвращает nil, если объекта уже нет.
func (s *FileStore) Delete(_ context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: удаление %s: %w", storage.ErrWrite, key, err)
	}
	return nil
}

// GetURL выдаёт подписанную ссылку на /blobs/{key}.
func (s *FileStore) GetURL(_ context.Context, key string, opts storage.URLOptions) (string, error) {
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	if !opts.Signed {
		return "", fmt.Errorf("%w: прямые ссылки на файловое хранилище", storage.ErrUnsupported)
	}
	token, err := s.SignToken(key, opts.ExpiresIn)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("token", token)
	if opts.DownloadName != "" {
		q.Set("name", opts.DownloadName)
	}
	return fmt.Sprintf("%s/blobs/%s?%s", s.publicURL, escapeKey(key), q.Encode()), nil
}

// SignToken подписывает доступ к ключу на ttl.
func (s *FileStore) SignToken(key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   key,
		Audience:  jwt.ClaimStrings{blobAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("подпись ссылки: %w", err)
	}
	return token, nil
}

// VerifyToken проверяет токен ссылки и возвращает ключ объекта.
func (s *FileStore) VerifyToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(blobAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if _, err := s.resolve(claims.Subject); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

// List возвращает объекты с ключом, начинающимся с prefix.
func (s *FileStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var result []storage.ObjectInfo
	err := filepath.WalkDir(s.dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.dataDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		result = append(result, toObjectInfo(key, fi))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: список %s: %w", storage.ErrRead, prefix, err)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// Move переименовывает объект.
func (s *FileStore) Move(_ context.Context, src, dst string) error {
	srcPath, err := s.resolve(src)
	if err != nil {
		return err
	}
	dstPath, err := s.resolve(dst)
	if err != nil {
		return err
	}
	if _, err := os.Stat(srcPath); err != nil {
		return s.statErr(src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return fmt.Errorf("%w: %s: %w", storage.ErrWrite, dst, err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("%w: перемещение %s → %s: %w", storage.ErrWrite, src, dst, err)
	}
	return nil
}

// Copy копирует объект с той же атомарностью, что и Upload.
func (s *FileStore) Copy(_ context.Context, src, dst string) error {
	srcPath, err := s.resolve(src)
	if err != nil {
		return err
	}
	dstPath, err := s.resolve(dst)
	if err != nil {
		return err
	}
	f, err := os.Open(srcPath)
	if err != nil {
		return s.statErr(src, err)
	}
	defer f.Close()
	if _, err := writeAtomic(dstPath, f); err != nil {
		return fmt.Errorf("%w: копирование %s → %s: %w", storage.ErrWrite, src, dst, err)
	}
	return nil
}

func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", storage.ErrRead, key, err)
	}
	return !fi.IsDir(), nil
}

func (s *FileStore) GetMetadata(_ context.Context, key string) (*storage.ObjectInfo, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(fullPath)
	if err != nil {
		return nil, s.statErr(key, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	info := toObjectInfo(key, fi)
	return &info, nil
}

func (s *FileStore) statErr(key string, err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return fmt.Errorf("%w: %s: %w", storage.ErrRead, key, err)
}

func toObjectInfo(key string, fi fs.FileInfo) storage.ObjectInfo {
	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return storage.ObjectInfo{
		Path:         key,
		Size:         fi.Size(),
		ContentType:  ct,
		ETag:         fmt.Sprintf("%x-%x", fi.ModTime().UnixNano(), fi.Size()),
		LastModified: fi.ModTime().UTC(),
	}
}

// escapeKey экранирует сегменты ключа, сохраняя разделители.
func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
