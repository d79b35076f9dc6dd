// Пакет errors — конструкторы стандартных ошибок Document Module.
// Единый формат: {"error": {"code": "...", "message": "...", ...}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeDuplicate         = "DUPLICATE"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeNoPendingApproval = "NO_PENDING_APPROVAL"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeStorageError      = "STORAGE_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// ExistingDocumentID — для DUPLICATE
	ExistingDocumentID string `json:"existing_document_id,omitempty"`
	// RemainingBytes — для QUOTA_EXCEEDED
	RemainingBytes *int64 `json:"remaining_bytes,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeBody(w, statusCode, errorDetail{Code: code, Message: message})
}

func writeBody(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт состояния.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// Duplicate — 409 документ с таким содержимым уже существует.
func Duplicate(w http.ResponseWriter, message, existingDocumentID string) {
	writeBody(w, http.StatusConflict, errorDetail{
		Code:               CodeDuplicate,
		Message:            message,
		ExistingDocumentID: existingDocumentID,
	})
}

// QuotaExceeded — 413 загрузка превышает квоту хранилища.
func QuotaExceeded(w http.ResponseWriter, message string, remainingBytes int64) {
	writeBody(w, http.StatusRequestEntityTooLarge, errorDetail{
		Code:           CodeQuotaExceeded,
		Message:        message,
		RemainingBytes: &remainingBytes,
	})
}

// FileTooLarge — 413 файл больше допустимого размера.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// NoPendingApproval — 409 нет ожидающего запроса согласования.
func NoPendingApproval(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeNoPendingApproval, message)
}

// InvalidTransition — 409 недопустимый переход статуса.
func InvalidTransition(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeInvalidTransition, message)
}

// StorageError — 502 ошибка blob-хранилища.
func StorageError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeStorageError, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
