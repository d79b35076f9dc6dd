// approvals.go — обработчики согласования документа.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/document-module/internal/api/errors"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/service"
)

// requestApprovalBody — тело POST /api/v1/documents/{id}/approvals.
type requestApprovalBody struct {
	ApproverIDs []string   `json:"approver_ids"`
	Message     string     `json:"message"`
	Deadline    *time.Time `json:"deadline"`
}

// decisionBody — тело POST /api/v1/documents/{id}/approvals/decision.
type decisionBody struct {
	Decision string `json:"decision"`
	Comments string `json:"comments"`
}

// approvalsResponse — список запросов согласования.
type approvalsResponse struct {
	Items []*model.ApprovalRequest `json:"items"`
}

// decisionResponse — итог решения согласующего.
type decisionResponse struct {
	Request        *model.ApprovalRequest `json:"request"`
	DocumentStatus model.DocumentStatus   `json:"document_status"`
}

// RequestApproval обрабатывает POST /api/v1/documents/{id}/approvals.
func (h *APIHandler) RequestApproval(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	var body requestApprovalBody
	if !decodeJSON(w, r, &body) {
		return
	}

	reqs, err := h.approvals.RequestApproval(r.Context(), caller, id, service.ApprovalRequestParams{
		ApproverIDs: body.ApproverIDs,
		Message:     body.Message,
		Deadline:    body.Deadline,
	})
	if err != nil {
		h.writeServiceError(w, r, "request_approval", err)
		return
	}
	writeJSON(w, http.StatusCreated, approvalsResponse{Items: reqs})
}

// ProcessApproval обрабатывает POST /api/v1/documents/{id}/approvals/decision.
// Решение принимает вызывающий от своего имени.
func (h *APIHandler) ProcessApproval(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	var body decisionBody
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.approvals.ProcessApproval(r.Context(), caller, id, body.Decision, body.Comments)
	if err != nil {
		h.writeServiceError(w, r, "process_approval", err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{Request: res.Request, DocumentStatus: res.DocumentStatus})
}

// ListApprovals обрабатывает GET /api/v1/documents/{id}/approvals.
func (h *APIHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	reqs, err := h.approvals.ListApprovals(r.Context(), caller, id)
	if err != nil {
		h.writeServiceError(w, r, "list_approvals", err)
		return
	}
	if reqs == nil {
		reqs = []*model.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, approvalsResponse{Items: reqs})
}

// maxJSONBody — ограничение размера JSON-тела запроса.
const maxJSONBody = 1 << 20

// decodeJSON разбирает JSON-тело запроса; при ошибке пишет 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}
