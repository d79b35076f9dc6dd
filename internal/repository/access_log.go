package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// AccessLogRepository — журнал доступа, только добавление.
type AccessLogRepository interface {
	Append(ctx context.Context, e *model.AccessLogEntry) error
	// ListByDocument возвращает последние limit записей документа, новые первыми.
	ListByDocument(ctx context.Context, documentID string, limit int) ([]*model.AccessLogEntry, error)
}

type accessLogRepo struct {
	db DBTX
}

// NewAccessLogRepository создаёт репозиторий журнала доступа.
func NewAccessLogRepository(db DBTX) AccessLogRepository {
	return &accessLogRepo{db: db}
}

func (r *accessLogRepo) Append(ctx context.Context, e *model.AccessLogEntry) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO access_log (document_id, accessed_by, access_type, access_method)
		VALUES ($1, $2, $3, $4)
		RETURNING id, accessed_at`,
		e.DocumentID, e.AccessedBy, string(e.AccessType), e.AccessMethod,
	).Scan(&e.ID, &e.AccessedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи журнала доступа: %w", err)
	}
	return nil
}

func (r *accessLogRepo) ListByDocument(ctx context.Context, documentID string, limit int) ([]*model.AccessLogEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, document_id, accessed_by, access_type, access_method, accessed_at
		FROM access_log
		WHERE document_id = $1
		ORDER BY accessed_at DESC, id DESC
		LIMIT $2`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала доступа: %w", err)
	}
	defer rows.Close()

	var result []*model.AccessLogEntry
	for rows.Next() {
		e := &model.AccessLogEntry{}
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.AccessedBy, &e.AccessType, &e.AccessMethod, &e.AccessedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
