package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// ApprovalRepository — операции с таблицей approval_requests.
// Строки не удаляются; статус меняется ровно один раз.
type ApprovalRepository interface {
	// InsertBatch создаёт запросы согласования (по одному на согласующего).
	InsertBatch(ctx context.Context, reqs []*model.ApprovalRequest) error
	// GetPending возвращает ожидающий запрос пары (документ, согласующий).
	GetPending(ctx context.Context, documentID, approverID string) (*model.ApprovalRequest, error)
	// Decide фиксирует решение на ожидающем запросе. ErrNotFound, если
	// ожидающего запроса нет (уже решён или не назначен).
	Decide(ctx context.Context, documentID, approverID string, decision model.ApprovalStatus, comments string) (*model.ApprovalRequest, error)
	// ListByDocument возвращает все запросы документа в порядке создания.
	ListByDocument(ctx context.Context, documentID string) ([]*model.ApprovalRequest, error)
	// StatusesByDocument возвращает текущие статусы всех запросов документа.
	StatusesByDocument(ctx context.Context, documentID string) ([]model.ApprovalStatus, error)
}

type approvalRepo struct {
	db DBTX
}

// NewApprovalRepository создаёт репозиторий запросов согласования.
func NewApprovalRepository(db DBTX) ApprovalRepository {
	return &approvalRepo{db: db}
}

const approvalColumns = `id, document_id, approver_id, requested_by, approval_status,
	message, comments, deadline, responded_at, created_at`

func scanApproval(row pgx.Row) (*model.ApprovalRequest, error) {
	a := &model.ApprovalRequest{}
	err := row.Scan(&a.ID, &a.DocumentID, &a.ApproverID, &a.RequestedBy, &a.Status,
		&a.Message, &a.Comments, &a.Deadline, &a.RespondedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *approvalRepo) InsertBatch(ctx context.Context, reqs []*model.ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests (id, document_id, approver_id, requested_by,
			approval_status, message, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	for _, a := range reqs {
		err := r.db.QueryRow(ctx, query,
			a.ID, a.DocumentID, a.ApproverID, a.RequestedBy, string(a.Status), a.Message, a.Deadline,
		).Scan(&a.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: запрос согласования для %s", ErrConflict, a.ApproverID)
			}
			return fmt.Errorf("ошибка создания запроса согласования: %w", err)
		}
	}
	return nil
}

func (r *approvalRepo) GetPending(ctx context.Context, documentID, approverID string) (*model.ApprovalRequest, error) {
	a, err := scanApproval(r.db.QueryRow(ctx, `
		SELECT `+approvalColumns+` FROM approval_requests
		WHERE document_id = $1 AND approver_id = $2 AND approval_status = 'pending'`,
		documentID, approverID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения запроса согласования: %w", err)
	}
	return a, nil
}

func (r *approvalRepo) Decide(ctx context.Context, documentID, approverID string, decision model.ApprovalStatus, comments string) (*model.ApprovalRequest, error) {
	a, err := scanApproval(r.db.QueryRow(ctx, `
		UPDATE approval_requests
		SET approval_status = $3, comments = $4, responded_at = NOW()
		WHERE document_id = $1 AND approver_id = $2 AND approval_status = 'pending'
		RETURNING `+approvalColumns,
		documentID, approverID, string(decision), comments))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка записи решения: %w", err)
	}
	return a, nil
}

func (r *approvalRepo) ListByDocument(ctx context.Context, documentID string) ([]*model.ApprovalRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+approvalColumns+` FROM approval_requests
		WHERE document_id = $1
		ORDER BY created_at, approver_id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения запросов согласования: %w", err)
	}
	defer rows.Close()

	var result []*model.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования запроса согласования: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *approvalRepo) StatusesByDocument(ctx context.Context, documentID string) ([]model.ApprovalStatus, error) {
	rows, err := r.db.Query(ctx,
		`SELECT approval_status FROM approval_requests WHERE document_id = $1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статусов согласования: %w", err)
	}
	defer rows.Close()

	var result []model.ApprovalStatus
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статуса: %w", err)
		}
		result = append(result, model.ApprovalStatus(s))
	}
	return result, rows.Err()
}
