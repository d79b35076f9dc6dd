package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/domain/approval"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/permission"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

// ApprovalService — запуск согласования и решения согласующих.
type ApprovalService struct {
	docs   docAccess
	gate   *permission.Gate
	now    func() time.Time
	logger *slog.Logger
}

// NewApprovalService создаёт сервис согласования.
func NewApprovalService(deps Deps, logger *slog.Logger) *ApprovalService {
	l := logger.With(slog.String("component", "approval_service"))
	return &ApprovalService{
		docs:   docAccess{store: deps.Store, cache: deps.Cache, logger: l},
		gate:   deps.Gate,
		now:    time.Now,
		logger: l,
	}
}

// ApprovalRequestParams — параметры запуска согласования.
type ApprovalRequestParams struct {
	ApproverIDs []string
	Message     string
	Deadline    *time.Time
}

// RequestApproval переводит документ из draft в pending_review и создаёт
// по одному ожидающему запросу на согласующего. Запустить согласование
// может автор, владелец или администратор.
func (s *ApprovalService) RequestApproval(ctx context.Context, caller model.Caller, documentID string, params ApprovalRequestParams) ([]*model.ApprovalRequest, error) {
	approvers, err := approval.ValidateApprovers(params.ApproverIDs)
	if err != nil {
		return nil, validationf("%s", err)
	}

	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckAccess(perms); err != nil {
		return nil, err
	}

	doc, err := s.docs.loadVisible(ctx, caller, documentID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin && !doc.IsOwnedBy(caller.UserID) {
		return nil, fmt.Errorf("%w: запросить согласование может только автор, владелец или администратор", ErrPermissionDenied)
	}

	now := s.now().UTC()
	var reqs []*model.ApprovalRequest
	err = s.docs.store.InTx(ctx, func(r repository.Repos) error {
		locked, err := r.Documents.GetByIDForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if locked.IsDeleted() {
			return repository.ErrNotFound
		}
		if err := approval.Transition(locked.Status, model.StatusPendingReview); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		reqs = newApprovalRequests(documentID, approvers, caller.UserID, params.Message, params.Deadline, now)
		if err := r.Approvals.InsertBatch(ctx, reqs); err != nil {
			return err
		}
		return r.Documents.SetStatus(ctx, documentID, model.StatusPendingReview)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, mapRepoErr("запуск согласования", err)
	}

	s.docs.invalidate(ctx, documentID)
	s.logger.Info("Согласование запущено",
		slog.String("document_id", documentID),
		slog.String("requested_by", caller.UserID),
		slog.Int("approvers", len(approvers)),
	)
	return reqs, nil
}

// DecisionResult — итог решения согласующего.
type DecisionResult struct {
	Request *model.ApprovalRequest
	// DocumentStatus — сводный статус документа после решения
	DocumentStatus model.DocumentStatus
}

// ProcessApproval фиксирует решение согласующего caller по документу.
// Решение принимается только на ожидающем запросе этой пары, иначе
// ErrNoPendingApproval. Сводный статус пересчитывается по всем запросам
// в той же транзакции при заблокированной строке документа.
func (s *ApprovalService) ProcessApproval(ctx context.Context, caller model.Caller, documentID, decision, comments string) (*DecisionResult, error) {
	status, err := approval.ParseDecision(decision)
	if err != nil {
		return nil, validationf("%s", err)
	}

	doc, err := s.docs.load(ctx, documentID)
	if err != nil {
		return nil, err
	}

	repos := s.docs.store.Repos()
	_, err = repos.Approvals.GetPending(ctx, doc.ID, caller.UserID)
	hasPending := err == nil
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("поиск запроса согласования: %w", err)
	}

	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckApprove(perms, hasPending); err != nil {
		return nil, err
	}
	if !hasPending {
		return nil, fmt.Errorf("%w: документ %s, согласующий %s", ErrNoPendingApproval, documentID, caller.UserID)
	}

	result := &DecisionResult{}
	err = s.docs.store.InTx(ctx, func(r repository.Repos) error {
		locked, err := r.Documents.GetByIDForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if locked.IsDeleted() {
			return repository.ErrNotFound
		}

		req, err := r.Approvals.Decide(ctx, documentID, caller.UserID, status, comments)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: решение уже принято", ErrNoPendingApproval)
			}
			return err
		}
		result.Request = req

		statuses, err := r.Approvals.StatusesByDocument(ctx, documentID)
		if err != nil {
			return err
		}
		aggregate := approval.Aggregate(statuses)
		result.DocumentStatus = locked.Status
		if locked.Status != model.StatusPendingReview || aggregate == locked.Status {
			return nil
		}
		if err := r.Documents.SetStatus(ctx, documentID, aggregate); err != nil {
			return err
		}
		result.DocumentStatus = aggregate
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoPendingApproval) {
			return nil, err
		}
		return nil, mapRepoErr("решение согласования", err)
	}

	s.docs.invalidate(ctx, documentID)
	approvalDecisionsTotal.WithLabelValues(string(status)).Inc()

	s.logger.Info("Решение согласующего принято",
		slog.String("document_id", documentID),
		slog.String("approver_id", caller.UserID),
		slog.String("decision", string(status)),
		slog.String("document_status", string(result.DocumentStatus)),
	)
	return result, nil
}

// ListApprovals возвращает запросы согласования документа в порядке создания.
func (s *ApprovalService) ListApprovals(ctx context.Context, caller model.Caller, documentID string) ([]*model.ApprovalRequest, error) {
	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckAccess(perms); err != nil {
		return nil, err
	}

	doc, err := s.docs.loadVisible(ctx, caller, documentID)
	if err != nil {
		return nil, err
	}
	reqs, err := s.docs.store.Repos().Approvals.ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("список запросов согласования: %w", err)
	}
	if reqs == nil {
		reqs = []*model.ApprovalRequest{}
	}
	return reqs, nil
}
