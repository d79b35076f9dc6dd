package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

// AuditLog — журнал доступа к документам. Запись best-effort:
// ошибка логируется и не прерывает основную операцию.
type AuditLog struct {
	repo   repository.AccessLogRepository
	logger *slog.Logger
}

// NewAuditLog создаёт журнал доступа.
func NewAuditLog(repo repository.AccessLogRepository, logger *slog.Logger) *AuditLog {
	return &AuditLog{
		repo:   repo,
		logger: logger.With(slog.String("component", "audit_log")),
	}
}

// Record добавляет запись в журнал.
func (a *AuditLog) Record(ctx context.Context, documentID string, caller model.Caller, accessType model.AccessType) {
	method := caller.AccessMethod
	if method == "" {
		method = "api"
	}
	entry := &model.AccessLogEntry{
		DocumentID:   documentID,
		AccessedBy:   caller.UserID,
		AccessType:   accessType,
		AccessMethod: method,
	}
	if err := a.repo.Append(ctx, entry); err != nil {
		auditFailuresTotal.WithLabelValues(string(accessType)).Inc()
		a.logger.Warn("Не удалось записать событие журнала доступа",
			slog.String("document_id", documentID),
			slog.String("user_id", caller.UserID),
			slog.String("access_type", string(accessType)),
			slog.String("error", err.Error()),
		)
	}
}

// History возвращает последние события документа.
func (a *AuditLog) History(ctx context.Context, documentID string, limit int) ([]*model.AccessLogEntry, error) {
	return a.repo.ListByDocument(ctx, documentID, limit)
}
