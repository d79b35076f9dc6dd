// blobs.go — отдача содержимого filesystem-бэкенда по подписанной ссылке.
// GET /blobs/{key}?token=...&name=... обслуживается без JWT: доступ
// подтверждает HS256-токен, выданный сервисом при GetSignedURL.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/document-module/internal/api/errors"
	"github.com/bigkaa/goartstore/document-module/internal/storage"
)

// TokenVerifier — проверка токена подписанной ссылки.
type TokenVerifier interface {
	// VerifyToken возвращает ключ объекта, на который выдан токен.
	VerifyToken(token string) (string, error)
}

// BlobHandler — обработчик /blobs/*.
type BlobHandler struct {
	verifier TokenVerifier
	adapter  storage.Adapter
	logger   *slog.Logger
}

// NewBlobHandler создаёт обработчик подписанных ссылок.
func NewBlobHandler(verifier TokenVerifier, adapter storage.Adapter, logger *slog.Logger) *BlobHandler {
	return &BlobHandler{
		verifier: verifier,
		adapter:  adapter,
		logger:   logger.With(slog.String("component", "blob_handler")),
	}
}

// ServeBlob обрабатывает GET /blobs/*.
// Поддерживает Range и If-None-Match, если бэкенд отдаёт поток с Seek.
func (h *BlobHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		apierrors.NotFound(w, "Объект не найден")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		apierrors.Unauthorized(w, "Отсутствует токен ссылки")
		return
	}
	signedKey, err := h.verifier.VerifyToken(token)
	if err != nil || signedKey != key {
		h.logger.Debug("Отклонена подписанная ссылка",
			slog.String("key", key),
			slog.String("remote_addr", r.RemoteAddr),
		)
		apierrors.Forbidden(w, "Недействительная или просроченная ссылка")
		return
	}

	rc, info, err := h.adapter.Download(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			apierrors.NotFound(w, "Объект не найден")
			return
		}
		h.logger.Error("Ошибка чтения объекта",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		apierrors.StorageError(w, "Ошибка чтения из хранилища")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", info.ContentType)
	if info.ETag != "" {
		w.Header().Set("ETag", strconv.Quote(info.ETag))
	}
	if name := r.URL.Query().Get("name"); name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", info.LastModified, rs)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Прервана отдача объекта",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
