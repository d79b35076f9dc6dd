package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// ShareRepository — выдачи доступа к документам.
type ShareRepository interface {
	// Grant выдаёт доступ. Повторная выдача не ошибка; возвращает true,
	// если запись создана.
	Grant(ctx context.Context, s *model.Share) (bool, error)
	// HasAccess сообщает, выдан ли пользователю доступ к документу.
	HasAccess(ctx context.Context, documentID, userID string) (bool, error)
	ListByDocument(ctx context.Context, documentID string) ([]*model.Share, error)
}

type shareRepo struct {
	db DBTX
}

// NewShareRepository создаёт репозиторий выдач доступа.
func NewShareRepository(db DBTX) ShareRepository {
	return &shareRepo{db: db}
}

func (r *shareRepo) Grant(ctx context.Context, s *model.Share) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO document_shares (document_id, user_id, shared_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO NOTHING`,
		s.DocumentID, s.UserID, s.SharedBy)
	if err != nil {
		return false, fmt.Errorf("ошибка выдачи доступа: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *shareRepo) HasAccess(ctx context.Context, documentID, userID string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM document_shares WHERE document_id = $1 AND user_id = $2)`,
		documentID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки доступа: %w", err)
	}
	return ok, nil
}

func (r *shareRepo) ListByDocument(ctx context.Context, documentID string) ([]*model.Share, error) {
	rows, err := r.db.Query(ctx, `
		SELECT document_id, user_id, shared_by, created_at
		FROM document_shares
		WHERE document_id = $1
		ORDER BY created_at, user_id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выдач доступа: %w", err)
	}
	defer rows.Close()

	var result []*model.Share
	for rows.Next() {
		s := &model.Share{}
		if err := rows.Scan(&s.DocumentID, &s.UserID, &s.SharedBy, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования выдачи доступа: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
