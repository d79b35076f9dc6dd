// handler.go — основной обработчик API Document Module.
// Регистрирует маршруты на chi-роутере и переводит ошибки сервисного
// слоя в HTTP-ответы.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/document-module/internal/api/errors"
	"github.com/bigkaa/goartstore/document-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/service"
)

// APIHandler — основной обработчик API Document Module.
type APIHandler struct {
	docs      *service.DocumentService
	approvals *service.ApprovalService
	health    *HealthHandler
	// blobs — nil, если бэкенд хранилища выдаёт собственные ссылки (s3)
	blobs         *BlobHandler
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize — верхняя граница тела multipart-запроса на один файл.
func NewAPIHandler(
	docs *service.DocumentService,
	approvals *service.ApprovalService,
	health *HealthHandler,
	blobs *BlobHandler,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		docs:          docs,
		approvals:     approvals,
		health:        health,
		blobs:         blobs,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты модуля.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	if h.blobs != nil {
		r.Get("/blobs/*", h.blobs.ServeBlob)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", h.UploadDocuments)
			r.Get("/", h.SearchDocuments)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDocument)
				r.Delete("/", h.DeleteDocument)
				r.Post("/revisions", h.CreateRevision)
				r.Get("/versions", h.ListVersions)
				r.Get("/url", h.GetSignedURL)
				r.Get("/access-log", h.GetAccessLog)

				r.Get("/approvals", h.ListApprovals)
				r.Post("/approvals", h.RequestApproval)
				r.Post("/approvals/decision", h.ProcessApproval)
			})
		})
		r.Post("/shares", h.ShareDocuments)
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// callerFrom извлекает вызывающего; без аутентификации — 401.
func callerFrom(w http.ResponseWriter, r *http.Request) (model.Caller, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok || caller.UserID == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return model.Caller{}, false
	}
	return caller, true
}

// documentID извлекает и валидирует UUID из пути.
func documentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор документа: "+err.Error())
		return "", false
	}
	return id.String(), true
}

// errorInfo — HTTP-представление ошибки сервиса.
type errorInfo struct {
	Status             int    `json:"-"`
	Code               string `json:"code"`
	Message            string `json:"message"`
	ExistingDocumentID string `json:"existing_document_id,omitempty"`
	RemainingBytes     *int64 `json:"remaining_bytes,omitempty"`
}

// classifyError сопоставляет ошибку сервиса с HTTP-статусом и кодом.
func classifyError(err error) errorInfo {
	var dup *service.DuplicateError
	var quota *service.QuotaExceededError
	var maxBytes *http.MaxBytesError

	switch {
	case errors.As(err, &dup):
		return errorInfo{Status: http.StatusConflict, Code: apierrors.CodeDuplicate,
			Message: "Документ с таким содержимым уже существует", ExistingDocumentID: dup.Existing.ID}
	case errors.As(err, &quota):
		remaining := quota.RemainingBytes
		return errorInfo{Status: http.StatusRequestEntityTooLarge, Code: apierrors.CodeQuotaExceeded,
			Message: quota.Error(), RemainingBytes: &remaining}
	case errors.As(err, &maxBytes):
		return errorInfo{Status: http.StatusRequestEntityTooLarge, Code: apierrors.CodeFileTooLarge,
			Message: "Тело запроса превышает допустимый размер"}
	case errors.Is(err, service.ErrValidation):
		return errorInfo{Status: http.StatusBadRequest, Code: apierrors.CodeValidationError, Message: err.Error()}
	case errors.Is(err, service.ErrPermissionDenied):
		return errorInfo{Status: http.StatusForbidden, Code: apierrors.CodeForbidden, Message: err.Error()}
	case errors.Is(err, service.ErrNotFound):
		return errorInfo{Status: http.StatusNotFound, Code: apierrors.CodeNotFound, Message: "Документ не найден"}
	case errors.Is(err, service.ErrNoPendingApproval):
		return errorInfo{Status: http.StatusConflict, Code: apierrors.CodeNoPendingApproval, Message: err.Error()}
	case errors.Is(err, service.ErrInvalidTransition):
		return errorInfo{Status: http.StatusConflict, Code: apierrors.CodeInvalidTransition, Message: err.Error()}
	case errors.Is(err, service.ErrConflict):
		return errorInfo{Status: http.StatusConflict, Code: apierrors.CodeConflict, Message: err.Error()}
	case errors.Is(err, service.ErrStorageWrite), errors.Is(err, service.ErrStorageRead):
		return errorInfo{Status: http.StatusBadGateway, Code: apierrors.CodeStorageError, Message: "Ошибка хранилища документов"}
	default:
		return errorInfo{Status: http.StatusInternalServerError, Code: apierrors.CodeInternalError, Message: "Внутренняя ошибка"}
	}
}

// writeServiceError записывает ответ для ошибки сервиса.
// Ошибки 5xx логируются с исходным текстом, клиенту уходит обобщённое сообщение.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	info := classifyError(err)
	if info.Status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	switch info.Code {
	case apierrors.CodeDuplicate:
		apierrors.Duplicate(w, info.Message, info.ExistingDocumentID)
	case apierrors.CodeQuotaExceeded:
		apierrors.QuotaExceeded(w, info.Message, *info.RemainingBytes)
	default:
		apierrors.WriteError(w, info.Status, info.Code, info.Message)
	}
}
