// Пакет service — бизнес-логика Document Module: загрузка и дедупликация,
// ревизии, согласование, выдача доступа, ссылки и журнал доступа.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/permission"
)

// Ошибки сервисного слоя. Обработчики сопоставляют их с HTTP-статусами
// через errors.Is/errors.As.
var (
	// ErrValidation — некорректный ввод (пустой файл, превышение размера).
	ErrValidation = errors.New("ошибка валидации")
	// ErrDuplicate — активный документ с таким содержимым уже существует.
	ErrDuplicate = errors.New("документ с таким содержимым уже существует")
	// ErrPermissionDenied — операция запрещена.
	ErrPermissionDenied = permission.ErrDenied
	// ErrQuotaExceeded — превышена квота хранилища.
	ErrQuotaExceeded = permission.ErrQuotaExceeded
	// ErrStorageWrite — ошибка записи в хранилище.
	ErrStorageWrite = errors.New("ошибка записи в хранилище")
	// ErrStorageRead — ошибка чтения из хранилища.
	ErrStorageRead = errors.New("ошибка чтения из хранилища")
	// ErrNotFound — документ или запрос не найден.
	ErrNotFound = errors.New("не найдено")
	// ErrNoPendingApproval — нет ожидающего запроса согласования.
	ErrNoPendingApproval = errors.New("нет ожидающего запроса согласования")
	// ErrInvalidTransition — недопустимый переход статуса документа.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrConflict — конфликт состояния (путь занят, версия уже не текущая).
	ErrConflict = errors.New("конфликт состояния")
)

// QuotaExceededError — превышение квоты с остатком в байтах.
type QuotaExceededError = permission.QuotaExceededError

// DuplicateError — дубликат содержимого со ссылкой на существующий документ.
type DuplicateError struct {
	Existing *model.Document
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicate, e.Existing.ID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// validationf создаёт ошибку валидации.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
