// Пакет permission — проверка прав и квот пользователя перед операциями
// с документами. Права читаются из внешнего сервиса прав через Provider;
// любая ошибка получения прав трактуется как отказ.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// bytesPerGB — квоты задаются в гигабайтах (GiB).
const bytesPerGB = 1 << 30

// Ошибки проверки прав.
var (
	// ErrDenied — операция запрещена.
	ErrDenied = errors.New("доступ запрещён")
	// ErrQuotaExceeded — загрузка превышает квоту хранилища.
	ErrQuotaExceeded = errors.New("превышена квота хранилища")
)

// QuotaExceededError — превышение квоты с остатком в байтах.
type QuotaExceededError struct {
	// RemainingBytes — свободный остаток квоты (не меньше 0)
	RemainingBytes int64
	// RequestedBytes — размер загрузки
	RequestedBytes int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: доступно %s, требуется %s",
		ErrQuotaExceeded,
		humanize.IBytes(uint64(e.RemainingBytes)),
		humanize.IBytes(uint64(e.RequestedBytes)),
	)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// Provider — источник прав пользователя.
type Provider interface {
	GetUserPermissions(ctx context.Context, userID string) (*model.Permissions, error)
}

// Gate — проверка прав перед операциями.
type Gate struct {
	provider Provider
	logger   *slog.Logger
}

// NewGate создаёт Gate поверх провайдера прав.
func NewGate(provider Provider, logger *slog.Logger) *Gate {
	return &Gate{
		provider: provider,
		logger:   logger.With(slog.String("component", "permission_gate")),
	}
}

// Permissions получает права пользователя. Ошибка провайдера — отказ.
func (g *Gate) Permissions(ctx context.Context, userID string) (*model.Permissions, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: пользователь не определён", ErrDenied)
	}
	p, err := g.provider.GetUserPermissions(ctx, userID)
	if err != nil {
		g.logger.Warn("Права пользователя недоступны, операция запрещена",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: права пользователя недоступны: %w", ErrDenied, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: пустой набор прав", ErrDenied)
	}
	return p, nil
}

// CheckAccess — базовое право доступа к модулю.
func CheckAccess(p *model.Permissions) error {
	if p == nil || p.IsExpired {
		return fmt.Errorf("%w: права истекли", ErrDenied)
	}
	if !p.CanAccess {
		return fmt.Errorf("%w: нет права доступа", ErrDenied)
	}
	return nil
}

// MaxUploadSize возвращает лимит размера файла: из прав или значение по умолчанию.
func MaxUploadSize(p *model.Permissions, def int64) int64 {
	if p != nil && p.MaxUploadSizeMB != nil && *p.MaxUploadSizeMB > 0 {
		return *p.MaxUploadSizeMB << 20
	}
	return def
}

// CheckUpload — can_access, can_upload и квота. Размер относительно
// max_upload_size_mb проверяет вызывающий код (это ошибка валидации).
func CheckUpload(p *model.Permissions, size int64) error {
	if err := CheckAccess(p); err != nil {
		return err
	}
	if !p.CanUpload {
		return fmt.Errorf("%w: нет права загрузки", ErrDenied)
	}
	if p.StorageQuotaGB == nil {
		return nil
	}
	remaining := int64((*p.StorageQuotaGB - p.StorageUsedGB) * bytesPerGB)
	if remaining < 0 {
		remaining = 0
	}
	if size > remaining {
		return &QuotaExceededError{RemainingBytes: remaining, RequestedBytes: size}
	}
	return nil
}

// CheckDownload — can_access и can_download.
func CheckDownload(p *model.Permissions) error {
	if err := CheckAccess(p); err != nil {
		return err
	}
	if !p.CanDownload {
		return fmt.Errorf("%w: нет права скачивания", ErrDenied)
	}
	return nil
}

// CheckDelete — can_delete и (автор/владелец или администратор).
func CheckDelete(p *model.Permissions, caller model.Caller, doc *model.Document) error {
	if err := CheckAccess(p); err != nil {
		return err
	}
	if !p.CanDelete {
		return fmt.Errorf("%w: нет права удаления", ErrDenied)
	}
	if !caller.IsAdmin && !doc.IsOwnedBy(caller.UserID) {
		return fmt.Errorf("%w: удалять может только автор, владелец или администратор", ErrDenied)
	}
	return nil
}

// CheckShare — can_share.
func CheckShare(p *model.Permissions) error {
	if err := CheckAccess(p); err != nil {
		return err
	}
	if !p.CanShare {
		return fmt.Errorf("%w: нет права выдачи доступа", ErrDenied)
	}
	return nil
}

// CheckApprove — can_approve или назначенный пользователю ожидающий запрос.
// Назначение по документу действует и без общего права согласования.
func CheckApprove(p *model.Permissions, hasPendingAssignment bool) error {
	if hasPendingAssignment {
		return nil
	}
	if err := CheckAccess(p); err != nil {
		return err
	}
	if !p.CanApprove {
		return fmt.Errorf("%w: нет права согласования", ErrDenied)
	}
	return nil
}
