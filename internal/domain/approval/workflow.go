// Пакет approval — конечный автомат согласования документа.
//
// Жизненный цикл: draft → pending_review → {approved, rejected}.
// draft, approved и rejected терминальны для экземпляра согласования:
// новое согласование начинается с новой ревизии. Из любого состояния
// документ может быть удалён.
//
// Сводный статус — соединение fan-out/fan-in: одно отклонение сразу
// делает документ rejected, для approved нужны решения всех согласующих.
package approval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// Ошибки валидации согласования.
var (
	// ErrNoApprovers — пустой список согласующих.
	ErrNoApprovers = errors.New("список согласующих пуст")
	// ErrDuplicateApprover — согласующий указан дважды.
	ErrDuplicateApprover = errors.New("согласующий указан более одного раза")
	// ErrEmptyApprover — пустой идентификатор согласующего.
	ErrEmptyApprover = errors.New("пустой идентификатор согласующего")
	// ErrInvalidDecision — решение не approved и не rejected.
	ErrInvalidDecision = errors.New("недопустимое решение: допустимые значения — approved, rejected")
)

// validTransitions — матрица допустимых переходов статуса документа.
var validTransitions = map[model.DocumentStatus]map[model.DocumentStatus]bool{
	model.StatusDraft:         {model.StatusPendingReview: true, model.StatusDeleted: true},
	model.StatusPendingReview: {model.StatusApproved: true, model.StatusRejected: true, model.StatusDeleted: true},
	model.StatusApproved:      {model.StatusDeleted: true},
	model.StatusRejected:      {model.StatusDeleted: true},
	model.StatusDeleted:       {},
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	From model.DocumentStatus
	To   model.DocumentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("INVALID_TRANSITION: переход %s → %s недопустим", e.From, e.To)
}

// CanTransition проверяет допустимость перехода.
func CanTransition(from, to model.DocumentStatus) bool {
	return validTransitions[from][to]
}

// Transition возвращает *TransitionError, если переход недопустим.
func Transition(from, to model.DocumentStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Aggregate вычисляет статус документа по полному набору решений:
// хотя бы одно rejected — rejected; все approved — approved; иначе pending_review.
// Пустой набор — pending_review (согласование ещё не сформировано).
func Aggregate(statuses []model.ApprovalStatus) model.DocumentStatus {
	if len(statuses) == 0 {
		return model.StatusPendingReview
	}
	approved := 0
	for _, s := range statuses {
		switch s {
		case model.ApprovalRejected:
			return model.StatusRejected
		case model.ApprovalApproved:
			approved++
		}
	}
	if approved == len(statuses) {
		return model.StatusApproved
	}
	return model.StatusPendingReview
}

// ValidateApprovers проверяет список согласующих: непустой, без пустых
// идентификаторов и без повторов. Возвращает нормализованный список.
func ValidateApprovers(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, ErrNoApprovers
	}
	seen := make(map[string]bool, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, ErrEmptyApprover
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateApprover, id)
		}
		seen[id] = true
		result = append(result, id)
	}
	return result, nil
}

// ParseDecision преобразует строку решения согласующего.
func ParseDecision(s string) (model.ApprovalStatus, error) {
	switch model.ApprovalStatus(strings.ToLower(strings.TrimSpace(s))) {
	case model.ApprovalApproved:
		return model.ApprovalApproved, nil
	case model.ApprovalRejected:
		return model.ApprovalRejected, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
}
